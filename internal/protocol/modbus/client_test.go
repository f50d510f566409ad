package modbus

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"plc_agent/internal/simulator"
	"plc_agent/internal/types"
)

// startPLC serves a simulated controller on a free local port and returns its host:port.
func startPLC(t *testing.T) (*simulator.PLC, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	plc := simulator.NewPLC(simulator.DefaultSize, nil)
	if err := plc.Start(fmt.Sprintf("tcp://%s", addr)); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(func() { plc.Stop() })
	return plc, addr
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := NewModbusClient(ModbusConfig{Mode: ModeTCP, Address: addr, SlaveID: 1, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewModbusClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReadHoldingRegister(t *testing.T) {
	plc, addr := startPLC(t)
	plc.SetRegister(512, 731)
	c := newTestClient(t, addr)

	got, err := c.Read(context.Background(), types.KindRegister, 512, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 731 {
		t.Fatalf("expected 731, got %d", got)
	}

	// zero count is read as a single register
	got, err = c.Read(context.Background(), types.KindRegister, 512, 0)
	if err != nil || got != 731 {
		t.Fatalf("expected 731 with zero count, got %d (%v)", got, err)
	}
}

func TestWriteRegisterAndStop(t *testing.T) {
	plc, addr := startPLC(t)
	c := newTestClient(t, addr)

	if err := c.Write(context.Background(), types.KindRegister, 10, 1234); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := plc.Register(10); got != 1234 {
		t.Fatalf("expected register 10 = 1234, got %d", got)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := plc.Register(DefaultStopRegister); got != DefaultStopValue {
		t.Fatalf("expected stop pattern %b, got %b", DefaultStopValue, got)
	}
}

func TestCoilCoercionRoundTrip(t *testing.T) {
	_, addr := startPLC(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	tests := []struct {
		write uint16
		want  uint16
	}{
		{0, 0},
		{1, 1},
		{255, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if err := c.Write(ctx, types.KindCoil, 5, tt.write); err != nil {
			t.Fatalf("write coil %d: %v", tt.write, err)
		}
		got, err := c.Read(ctx, types.KindCoil, 5, 1)
		if err != nil {
			t.Fatalf("read coil: %v", err)
		}
		if got != tt.want {
			t.Fatalf("wrote %d, expected read %d, got %d", tt.write, tt.want, got)
		}
	}
}

func TestReadOutOfRangeFails(t *testing.T) {
	_, addr := startPLC(t)
	c := newTestClient(t, addr)

	if _, err := c.Read(context.Background(), types.KindRegister, 599, 5); err == nil {
		t.Fatalf("expected illegal address error")
	}
	// the link stays usable after a device exception
	if _, err := c.Read(context.Background(), types.KindRegister, 0, 1); err != nil {
		t.Fatalf("read after exception: %v", err)
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := NewModbusClient(ModbusConfig{Mode: "udp"}, nil); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
