package types

import "time"

// TimestampLayout is the layout of Reading.Timestamp as the control plane expects it.
const TimestampLayout = "06/01/02 15:04:05"

// Reading is one polled value of one sensor. It is published and then dropped.
type Reading struct {
	SensorID       string         `json:"sensor_id"`
	Label          string         `json:"label"`
	RegisterLabel  string         `json:"register_label"`
	Category       Category       `json:"category"`
	AddressingKind AddressingKind `json:"addressing_kind"`
	Timestamp      string         `json:"timestamp"`
	Value          uint16         `json:"value"`
}

// NewReading stamps a value read for the given sensor.
func NewReading(d SensorDescriptor, value uint16, at time.Time) Reading {
	d = d.Normalize()
	return Reading{
		SensorID:       d.ID,
		Label:          d.Label,
		RegisterLabel:  d.RegisterLabel,
		Category:       d.Category,
		AddressingKind: d.Kind,
		Timestamp:      at.Format(TimestampLayout),
		Value:          value,
	}
}
