// Package agent wires the sensor registry, the device link and the control channel together:
// a pump goroutine dispatches inbound commands and a scheduler polls every registered sensor.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"plc_agent/internal/command"
	"plc_agent/internal/device"
	"plc_agent/internal/metrics"
	"plc_agent/internal/types"
)

// Published topics.
const (
	TopicMonitoring  = "monitoring_streamline"
	TopicHealthCheck = "health_check"
	TopicStatus      = "agent_status"
	TopicLocked      = "agent_locked"
)

// DefaultPollInterval is the scheduler cadence when none is configured.
const DefaultPollInterval = 100 * time.Millisecond

const receiveRetryDelay = 500 * time.Millisecond

// DeviceLink is the connection to the controller.
type DeviceLink interface {
	Read(ctx context.Context, kind types.AddressingKind, start, end uint16) (uint16, error)
	Write(ctx context.Context, kind types.AddressingKind, register, value uint16) error
	Stop(ctx context.Context) error
	Close() error
}

// ControlChannel carries commands in and readings and notices out.
// Implementations wrap types.ErrDisconnected when the transport is down.
type ControlChannel interface {
	Receive(ctx context.Context) (command.Command, error)
	Publish(ctx context.Context, topic string, payload any) error
}

// Readier is implemented by channels that report their first successful connection.
// The scheduler holds polling until Ready is closed, so a channel that has never
// connected does not count as a lost connection.
type Readier interface {
	Ready() <-chan struct{}
}

// Metrics receives agent activity. metrics.Prom and metrics.Nop implement it.
type Metrics interface {
	CommandHandled(command, result string)
	ReadDone(err error)
	Published(topic string, err error)
	SensorSkipped()
	RegistryCleared()
	TickDone(d time.Duration)
	SetSensors(n int)
	SetPaused(paused bool)
}

// Options tune an Agent. Zero values select defaults.
type Options struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      Metrics
}

// Agent runs the command pump and the polling scheduler.
type Agent struct {
	registry   *device.Registry
	channel    ControlChannel
	dispatcher *Dispatcher
	scheduler  *Scheduler
	logger     *slog.Logger
}

// New creates an agent over registry, link and channel.
func New(registry *device.Registry, link DeviceLink, channel ControlChannel, opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger.With("component", "agent")

	return &Agent{
		registry:   registry,
		channel:    channel,
		dispatcher: NewDispatcher(registry, link, channel, logger, opts.Metrics),
		scheduler:  NewScheduler(registry, link, channel, opts.PollInterval, logger, opts.Metrics),
		logger:     logger,
	}
}

// Dispatcher returns the agent's command dispatcher.
func (a *Agent) Dispatcher() *Dispatcher { return a.dispatcher }

// Scheduler returns the agent's polling scheduler.
func (a *Agent) Scheduler() *Scheduler { return a.scheduler }

// Run blocks until ctx is cancelled, then waits for in-flight reads to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started", "sensors", a.registry.Len(), "paused", a.registry.Paused())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.pump(ctx)
	}()
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()
	wg.Wait()

	a.logger.Info("agent stopped")
	return nil
}

func (a *Agent) pump(ctx context.Context) {
	for {
		cmd, err := a.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		if err := a.dispatcher.Dispatch(ctx, cmd); err != nil {
			if errors.Is(err, ErrAgentLocked) {
				a.logger.Info("command rejected while paused", "command", cmd.Name())
				continue
			}
			a.logger.Error("command failed", "command", cmd.Name(), "error", err)
		}
	}
}
