// Package command defines the commands the control plane can send to the agent
// and decodes them from the `type_of_event` wire envelope.
package command

import "plc_agent/internal/types"

// Command is one inbound instruction. The concrete types below are the only implementations.
type Command interface {
	// Name is the command name used in logs, metrics and agent_locked notices.
	Name() string
	// Mutating reports whether the command is subject to the pause gate.
	Mutating() bool
}

// Wait does nothing.
type Wait struct{}

// Stop writes the controller's stop pattern.
type Stop struct{}

// Write writes Value to Register using the given addressing kind.
type Write struct {
	Register uint16
	Value    uint16
	Kind     types.AddressingKind
}

// AddSensor registers a new monitored point.
type AddSensor struct {
	Sensor types.SensorDescriptor
}

// RemoveSensor drops a monitored point.
type RemoveSensor struct {
	ID string
}

// EditSensor replaces the fields of a monitored point.
type EditSensor struct {
	ID     string
	Sensor types.SensorDescriptor
}

// PauseAgent toggles the pause flag.
type PauseAgent struct{}

// HealthCheck publishes the current sensor snapshot.
type HealthCheck struct{}

// CleanUp drops every monitored point.
type CleanUp struct{}

func (Wait) Name() string         { return "wait" }
func (Stop) Name() string         { return "stop" }
func (Write) Name() string        { return "write" }
func (AddSensor) Name() string    { return "add_sensor" }
func (RemoveSensor) Name() string { return "remove_sensor" }
func (EditSensor) Name() string   { return "edit_sensor" }
func (PauseAgent) Name() string   { return "pause_agent" }
func (HealthCheck) Name() string  { return "health_check" }
func (CleanUp) Name() string      { return "clean_up" }

// Wait, PauseAgent and HealthCheck pass the pause gate; everything else is rejected while paused.
func (Wait) Mutating() bool         { return false }
func (Stop) Mutating() bool         { return true }
func (Write) Mutating() bool        { return true }
func (AddSensor) Mutating() bool    { return true }
func (RemoveSensor) Mutating() bool { return true }
func (EditSensor) Mutating() bool   { return true }
func (PauseAgent) Mutating() bool   { return false }
func (HealthCheck) Mutating() bool  { return false }
func (CleanUp) Mutating() bool      { return true }
