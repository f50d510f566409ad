package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"plc_agent/internal/command"
	"plc_agent/internal/device"
	"plc_agent/internal/types"
)

// ErrAgentLocked is returned for a command rejected because the agent is paused.
var ErrAgentLocked = errors.New("agent is locked")

// LockedMessage is published on agent_locked when a command is rejected.
type LockedMessage struct {
	Message string `json:"message"`
	Command string `json:"command"`
}

// StatusMessage is published on agent_status after a pause toggle.
type StatusMessage struct {
	Status string `json:"status"`
	Paused bool   `json:"paused"`
}

// Dispatcher applies commands to the registry and the device link.
type Dispatcher struct {
	registry *device.Registry
	link     DeviceLink
	channel  ControlChannel
	logger   *slog.Logger
	metrics  Metrics
}

// NewDispatcher creates a dispatcher that applies commands to registry and link.
func NewDispatcher(registry *device.Registry, link DeviceLink, channel ControlChannel, logger *slog.Logger, m Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		link:     link,
		channel:  channel,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch applies one command. While the agent is paused every mutating command is
// rejected with an agent_locked notice and ErrAgentLocked, and nothing else happens.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) error {
	if cmd.Mutating() && d.registry.Paused() {
		d.metrics.CommandHandled(cmd.Name(), "locked")
		if err := d.publish(ctx, TopicLocked, LockedMessage{Message: "Agent is locked", Command: cmd.Name()}); err != nil {
			return errors.Join(ErrAgentLocked, err)
		}
		return ErrAgentLocked
	}

	err := d.apply(ctx, cmd)
	result := "ok"
	if err != nil {
		result = "error"
	}
	d.metrics.CommandHandled(cmd.Name(), result)
	return err
}

func (d *Dispatcher) apply(ctx context.Context, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.Wait:
		return nil

	case command.HealthCheck:
		return d.publish(ctx, TopicHealthCheck, command.Encode(d.registry.Snapshot()))

	case command.CleanUp:
		d.registry.Clear()
		d.metrics.SetSensors(0)
		d.logger.Info("registry cleared")
		return nil

	case command.Stop:
		if err := d.link.Stop(ctx); err != nil {
			return types.NewError(types.KindDevice, "stop", err)
		}
		d.logger.Info("stop pattern written")
		return nil

	case command.Write:
		if err := d.link.Write(ctx, c.Kind, c.Register, c.Value); err != nil {
			return types.NewError(types.KindDevice, "write", err)
		}
		d.logger.Info("value written", "register", c.Register, "value", c.Value, "kind", c.Kind)
		return nil

	case command.AddSensor:
		d.registry.Add(c.Sensor)
		d.metrics.SetSensors(d.registry.Len())
		d.logger.Info("sensor added", "sensor_id", c.Sensor.ID, "start", c.Sensor.Start, "end", c.Sensor.End)
		return nil

	case command.RemoveSensor:
		if !d.registry.Remove(c.ID) {
			d.logger.Debug("remove of unknown sensor ignored", "sensor_id", c.ID)
			return nil
		}
		d.metrics.SetSensors(d.registry.Len())
		d.logger.Info("sensor removed", "sensor_id", c.ID)
		return nil

	case command.EditSensor:
		existed := d.registry.Edit(c.ID, c.Sensor)
		d.metrics.SetSensors(d.registry.Len())
		d.logger.Info("sensor edited", "sensor_id", c.ID, "existed", existed)
		return nil

	case command.PauseAgent:
		paused := d.registry.TogglePause()
		d.metrics.SetPaused(paused)
		status := "Agent resumed"
		if paused {
			status = "Agent paused"
		}
		d.logger.Info(status)
		return d.publish(ctx, TopicStatus, StatusMessage{Status: status, Paused: paused})

	default:
		return types.NewError(types.KindInternal, "dispatch", fmt.Errorf("unhandled command %T", cmd))
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic string, payload any) error {
	err := d.channel.Publish(ctx, topic, payload)
	d.metrics.Published(topic, err)
	if err != nil {
		return types.NewError(types.KindChannel, "publish "+topic, err)
	}
	return nil
}
