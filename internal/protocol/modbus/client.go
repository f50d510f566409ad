// Package modbus implements the device link to the controller over Modbus TCP or RTU.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"plc_agent/internal/types"
)

// Transport modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// Default stop pattern: bit 3 of control register 0.
const (
	DefaultStopRegister uint16 = 0
	DefaultStopValue    uint16 = 0b00001000
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ModbusConfig holds the connection settings of the link.
type ModbusConfig struct {
	Mode     string        `json:"mode" yaml:"mode"`
	Address  string        `json:"address" yaml:"address"` // host:port for tcp, device path for rtu
	SlaveID  byte          `json:"slave_id" yaml:"slave_id"`
	BaudRate int           `json:"baud_rate" yaml:"baud_rate"`
	DataBits int           `json:"data_bits" yaml:"data_bits"`
	StopBits int           `json:"stop_bits" yaml:"stop_bits"`
	Parity   string        `json:"parity" yaml:"parity"`
	Timeout  time.Duration `json:"-" yaml:"-"`

	StopRegister uint16 `json:"stop_register" yaml:"stop_register"`
	StopValue    uint16 `json:"stop_value" yaml:"stop_value"`
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Client is a device link backed by a single Modbus connection.
// Requests are serialized by the client's own mutex.
type Client struct {
	config  ModbusConfig
	client  modbus.Client
	handler handler
	logger  *slog.Logger
	mutex   sync.Mutex
}

// NewModbusClient creates the link and opens the connection.
// On a failed open the client is still returned; the transport reconnects on the next request.
func NewModbusClient(config ModbusConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.StopValue == 0 && config.StopRegister == 0 {
		config.StopValue = DefaultStopValue
	}

	var h handler
	switch config.Mode {
	case "", ModeTCP:
		tcp := modbus.NewTCPClientHandler(config.Address)
		tcp.SlaveId = config.SlaveID
		tcp.Timeout = config.Timeout
		tcp.IdleTimeout = 60 * time.Second
		h = tcp
	case ModeRTU:
		rtu := modbus.NewRTUClientHandler(config.Address)
		if config.BaudRate > 0 {
			rtu.BaudRate = config.BaudRate
		}
		if config.DataBits > 0 {
			rtu.DataBits = config.DataBits
		}
		if config.StopBits > 0 {
			rtu.StopBits = config.StopBits
		}
		rtu.SlaveId = config.SlaveID
		rtu.Timeout = config.Timeout
		switch config.Parity {
		case "E", "e", "even", "EVEN":
			rtu.Parity = "E"
		case "O", "o", "odd", "ODD":
			rtu.Parity = "O"
		default:
			rtu.Parity = "N"
		}
		h = rtu
	default:
		return nil, fmt.Errorf("unknown modbus mode %q", config.Mode)
	}

	c := &Client{
		config:  config,
		client:  modbus.NewClient(h),
		handler: h,
		logger:  logger.With("component", "modbus", "address", config.Address),
	}

	if err := h.Connect(); err != nil {
		return c, fmt.Errorf("connect to %s: %w", config.Address, err)
	}
	c.logger.Info("modbus link connected", "mode", config.Mode, "slave_id", config.SlaveID)
	return c, nil
}

// Read returns the first value of the span starting at start. Coils are coerced to 0 or 1.
func (c *Client) Read(ctx context.Context, kind types.AddressingKind, start, end uint16) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	quantity := end
	if quantity == 0 {
		quantity = 1
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch kind {
	case types.KindCoil:
		result, err := c.client.ReadCoils(start, quantity)
		if err != nil {
			return 0, fmt.Errorf("read coils %d+%d: %w", start, quantity, err)
		}
		if len(result) == 0 {
			return 0, fmt.Errorf("read coils %d+%d: empty response", start, quantity)
		}
		return types.ValueFromCoil(result[0]&0x01 == 1), nil
	case types.KindRegister, "":
		result, err := c.client.ReadHoldingRegisters(start, quantity)
		if err != nil {
			return 0, fmt.Errorf("read holding registers %d+%d: %w", start, quantity, err)
		}
		if len(result) < 2 {
			return 0, fmt.Errorf("read holding registers %d+%d: short response (%d bytes)", start, quantity, len(result))
		}
		return uint16(result[0])<<8 | uint16(result[1]), nil
	default:
		return 0, fmt.Errorf("unknown addressing kind %q", kind)
	}
}

// Write writes value to a register, or sets a coil (0 is off, anything else is on).
func (c *Client) Write(ctx context.Context, kind types.AddressingKind, register, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch kind {
	case types.KindCoil:
		state := coilOff
		if types.CoilFromValue(value) {
			state = coilOn
		}
		if _, err := c.client.WriteSingleCoil(register, state); err != nil {
			return fmt.Errorf("write coil %d: %w", register, err)
		}
	case types.KindRegister, "":
		if _, err := c.client.WriteSingleRegister(register, value); err != nil {
			return fmt.Errorf("write register %d: %w", register, err)
		}
	default:
		return fmt.Errorf("unknown addressing kind %q", kind)
	}
	c.logger.Debug("wrote value", "kind", kind, "register", register, "value", value)
	return nil
}

// Stop writes the stop pattern to the control register.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.Write(ctx, types.KindRegister, c.config.StopRegister, c.config.StopValue); err != nil {
		return fmt.Errorf("stop plc: %w", err)
	}
	c.logger.Info("plc stopped", "register", c.config.StopRegister, "value", c.config.StopValue)
	return nil
}

// Close closes the Modbus connection.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.handler == nil {
		return errors.New("modbus handler not initialized")
	}
	return c.handler.Close()
}
