// Package types holds the value types shared by the agent, the device link and the control channels.
package types

import (
	"fmt"
	"strings"
)

// AddressingKind selects how the device link interprets a point's address span.
type AddressingKind string

const (
	// KindRegister reads and writes holding registers.
	KindRegister AddressingKind = "register"
	// KindCoil reads and writes single bit coils.
	KindCoil AddressingKind = "coil"
)

// Category classifies the published payload of a sensor. It has no effect on polling.
type Category string

const (
	CategorySensor  Category = "sensor"
	CategoryGeneral Category = "general"
)

// ParseAddressingKind maps the wire aliases onto an AddressingKind.
// An empty string yields KindRegister.
func ParseAddressingKind(s string) (AddressingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "register", "holding", "holding_register":
		return KindRegister, nil
	case "coil", "bit":
		return KindCoil, nil
	default:
		return "", fmt.Errorf("unknown addressing kind %q", s)
	}
}

// ParseCategory maps the wire aliases onto a Category. An empty string yields CategorySensor.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sensor":
		return CategorySensor, nil
	case "general":
		return CategoryGeneral, nil
	default:
		return "", fmt.Errorf("unknown sensor category %q", s)
	}
}

// CoilFromValue coerces a numeric write value onto a coil state: 0 is off, anything else is on.
func CoilFromValue(v uint16) bool {
	return v != 0
}

// ValueFromCoil coerces a coil state onto the uniform unsigned reading.
func ValueFromCoil(on bool) uint16 {
	if on {
		return 1
	}
	return 0
}

// SensorDescriptor describes one monitored point.
type SensorDescriptor struct {
	ID            string         `json:"id" yaml:"id"`
	Label         string         `json:"label" yaml:"label"`
	Category      Category       `json:"s_type" yaml:"s_type"`
	Kind          AddressingKind `json:"r_type" yaml:"r_type"`
	Start         uint16         `json:"start_register" yaml:"start_register"`
	End           uint16         `json:"end_register" yaml:"end_register"`
	RegisterLabel string         `json:"register" yaml:"register"`
}

// Quantity returns the number of registers or coils to request. A zero end is read as one.
func (d SensorDescriptor) Quantity() uint16 {
	if d.End == 0 {
		return 1
	}
	return d.End
}

// Normalize fills in the default category and addressing kind.
func (d SensorDescriptor) Normalize() SensorDescriptor {
	if d.Category == "" {
		d.Category = CategorySensor
	}
	if d.Kind == "" {
		d.Kind = KindRegister
	}
	return d
}

// Validate checks the descriptor invariants.
func (d SensorDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("sensor id is required")
	}
	switch d.Kind {
	case "", KindRegister, KindCoil:
	default:
		return fmt.Errorf("sensor %s: unknown addressing kind %q", d.ID, d.Kind)
	}
	switch d.Category {
	case "", CategorySensor, CategoryGeneral:
	default:
		return fmt.Errorf("sensor %s: unknown category %q", d.ID, d.Category)
	}
	return nil
}
