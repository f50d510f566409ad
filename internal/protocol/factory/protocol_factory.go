// Package factory builds the device link from configuration.
package factory

import (
	"fmt"
	"log/slog"
	"time"

	"plc_agent/internal/config"
	"plc_agent/internal/protocol/modbus"
)

// CreateDeviceLink creates the Modbus link described by cfg.
// A link whose first connect failed is still returned together with the error;
// the transport retries on the next request.
func CreateDeviceLink(cfg config.ModbusSettings, logger *slog.Logger) (*modbus.Client, error) {
	mc := modbus.ModbusConfig{
		Mode:         cfg.Mode,
		Address:      cfg.Address,
		SlaveID:      cfg.SlaveID,
		BaudRate:     cfg.BaudRate,
		DataBits:     cfg.DataBits,
		StopBits:     cfg.StopBits,
		Parity:       cfg.Parity,
		Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		StopRegister: cfg.StopRegister,
		StopValue:    cfg.StopValue,
	}

	switch mc.Mode {
	case modbus.ModeTCP, modbus.ModeRTU:
	default:
		return nil, fmt.Errorf("unknown link mode: %s", mc.Mode)
	}

	return modbus.NewModbusClient(mc, logger)
}
