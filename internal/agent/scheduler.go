package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"plc_agent/internal/device"
	"plc_agent/internal/types"
)

// Scheduler reads every registered sensor once per interval and publishes the readings.
type Scheduler struct {
	registry *device.Registry
	link     DeviceLink
	channel  ControlChannel
	interval time.Duration
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time

	mutex    sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler that polls registry through link every interval.
func NewScheduler(registry *device.Registry, link DeviceLink, channel ControlChannel, interval time.Duration, logger *slog.Logger, m Metrics) *Scheduler {
	return &Scheduler{
		registry: registry,
		link:     link,
		channel:  channel,
		interval: interval,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled and then waits for in-flight reads.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("polling started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			s.logger.Info("polling stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick launches one read per registered sensor and returns how many were launched.
// Nothing is launched while the registry is paused or before the control channel
// has first connected. A sensor whose previous read is still running is skipped.
func (s *Scheduler) Tick(ctx context.Context) int {
	started := time.Now()
	state := s.registry.State()
	if state.Paused {
		return 0
	}
	if !s.channelReady() {
		s.logger.Debug("control channel not connected yet, holding polls", "sensors", len(state.Sensors))
		return 0
	}

	launched := 0
	for _, sensor := range state.Sensors {
		if !s.acquire(sensor.ID) {
			s.metrics.SensorSkipped()
			s.logger.Debug("sensor still in flight, skipping", "sensor_id", sensor.ID)
			continue
		}
		s.wg.Add(1)
		launched++
		go s.poll(ctx, sensor)
	}
	s.metrics.TickDone(time.Since(started))
	return launched
}

// Wait blocks until every launched read has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) poll(ctx context.Context, sensor types.SensorDescriptor) {
	defer s.wg.Done()
	defer s.release(sensor.ID)

	value, err := s.link.Read(ctx, sensor.Kind, sensor.Start, sensor.Quantity())
	s.metrics.ReadDone(err)
	if err != nil {
		s.logger.Warn("sensor read failed", "sensor_id", sensor.ID, "start", sensor.Start, "error", types.NewError(types.KindDevice, "read", err))
		return
	}

	reading := types.NewReading(sensor, value, s.now())
	err = s.channel.Publish(ctx, TopicMonitoring, reading)
	s.metrics.Published(TopicMonitoring, err)
	if err == nil {
		return
	}
	if types.IsDisconnected(err) {
		s.registry.Clear()
		s.metrics.RegistryCleared()
		s.metrics.SetSensors(0)
		s.logger.Error("control channel disconnected, registry cleared", "sensor_id", sensor.ID, "error", err)
		return
	}
	s.logger.Warn("publish failed", "sensor_id", sensor.ID, "error", types.NewError(types.KindChannel, "publish", err))
}

func (s *Scheduler) channelReady() bool {
	r, ok := s.channel.(Readier)
	if !ok {
		return true
	}
	select {
	case <-r.Ready():
		return true
	default:
		return false
	}
}

func (s *Scheduler) acquire(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mutex.Lock()
	delete(s.inflight, id)
	s.mutex.Unlock()
}
