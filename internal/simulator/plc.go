// Package simulator provides an in-process Modbus TCP controller for local runs and link tests.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
)

// DefaultSize is the number of holding registers and coils the simulated controller exposes.
const DefaultSize = 600

// PLC is a simulated controller backed by a simonvetter/modbus server.
type PLC struct {
	mutex   sync.RWMutex
	holding []uint16
	coils   []bool
	server  *modbus.ModbusServer
	logger  *slog.Logger
}

// NewPLC creates a controller with size holding registers and size coils, all zero.
func NewPLC(size int, logger *slog.Logger) *PLC {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PLC{
		holding: make([]uint16, size),
		coils:   make([]bool, size),
		logger:  logger.With("component", "plcsim"),
	}
}

// Start serves the controller on url, e.g. "tcp://0.0.0.0:502".
func (p *PLC) Start(url string) error {
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        url,
		Timeout:    30 * time.Second,
		MaxClients: 8,
	}, p)
	if err != nil {
		return fmt.Errorf("create modbus server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("start modbus server on %s: %w", url, err)
	}
	p.server = server
	p.logger.Info("simulated plc listening", "url", url, "registers", len(p.holding))
	return nil
}

// Stop shuts the server down.
func (p *PLC) Stop() error {
	if p.server == nil {
		return nil
	}
	return p.server.Stop()
}

// Randomize sets the given holding registers to random values below 1000 every interval until ctx is done.
func (p *PLC) Randomize(ctx context.Context, interval time.Duration, addrs ...uint16) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range addrs {
				p.SetRegister(addr, uint16(rand.Intn(1000)))
			}
		}
	}
}

// SetRegister stores v in holding register addr. Out-of-range addresses are ignored.
func (p *PLC) SetRegister(addr, v uint16) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if int(addr) < len(p.holding) {
		p.holding[addr] = v
	}
}

// Register returns holding register addr.
func (p *PLC) Register(addr uint16) uint16 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if int(addr) < len(p.holding) {
		return p.holding[addr]
	}
	return 0
}

// SetCoil stores v in coil addr.
func (p *PLC) SetCoil(addr uint16, v bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if int(addr) < len(p.coils) {
		p.coils[addr] = v
	}
}

// Coil returns coil addr.
func (p *PLC) Coil(addr uint16) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if int(addr) < len(p.coils) {
		return p.coils[addr]
	}
	return false
}

// HandleCoils serves coil reads and writes.
func (p *PLC) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(p.coils) {
		return nil, modbus.ErrIllegalDataAddress
	}
	if req.IsWrite {
		copy(p.coils[req.Addr:], req.Args)
		p.logger.Debug("coils written", "addr", req.Addr, "values", req.Args)
		return nil, nil
	}
	out := make([]bool, req.Quantity)
	copy(out, p.coils[req.Addr:int(req.Addr)+int(req.Quantity)])
	return out, nil
}

// HandleDiscreteInputs is not supported by the simulated controller.
func (p *PLC) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleHoldingRegisters serves holding register reads and writes.
func (p *PLC) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if int(req.Addr)+int(req.Quantity) > len(p.holding) {
		return nil, modbus.ErrIllegalDataAddress
	}
	if req.IsWrite {
		copy(p.holding[req.Addr:], req.Args)
		p.logger.Debug("registers written", "addr", req.Addr, "values", req.Args)
		return nil, nil
	}
	out := make([]uint16, req.Quantity)
	copy(out, p.holding[req.Addr:int(req.Addr)+int(req.Quantity)])
	return out, nil
}

// HandleInputRegisters is not supported by the simulated controller.
func (p *PLC) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}
