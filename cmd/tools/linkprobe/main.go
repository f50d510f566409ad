// Command linkprobe exercises the device link by hand: read a span, write a value,
// send the stop pattern, or poll every sensor of a sensor file once.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"plc_agent/internal/config"
	"plc_agent/internal/device"
	"plc_agent/internal/protocol/factory"
	"plc_agent/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings := config.Defaults().Modbus
	var slaveID uint8
	var kind string
	var start, count uint16
	var write int
	var stop bool
	var sensorsPath string

	flagSet := pflag.NewFlagSet("linkprobe", pflag.ContinueOnError)
	flagSet.StringVar(&settings.Mode, "mode", settings.Mode, "link mode: tcp or rtu")
	flagSet.StringVar(&settings.Address, "address", settings.Address, "host:port for tcp, serial device for rtu")
	flagSet.Uint8Var(&slaveID, "slave-id", settings.SlaveID, "Modbus unit id")
	flagSet.IntVar(&settings.BaudRate, "baud", settings.BaudRate, "serial baud rate (rtu)")
	flagSet.StringVar(&kind, "kind", string(types.KindRegister), "addressing kind: register or coil")
	flagSet.Uint16Var(&start, "start", 0, "first register or coil")
	flagSet.Uint16Var(&count, "count", 1, "number of registers or coils to request")
	flagSet.IntVar(&write, "write", -1, "write this value to --start instead of reading")
	flagSet.BoolVar(&stop, "stop", false, "write the stop pattern")
	flagSet.StringVar(&sensorsPath, "sensors", "", "poll every sensor in this file once")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	settings.SlaveID = slaveID

	addressing, err := types.ParseAddressingKind(kind)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	link, err := factory.CreateDeviceLink(settings, logger)
	if err != nil {
		return fmt.Errorf("connect %s: %w", settings.Address, err)
	}
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out := json.NewEncoder(os.Stdout)

	switch {
	case stop:
		if err := link.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("stop pattern written")

	case write >= 0:
		if write > 0xFFFF {
			return fmt.Errorf("value %d does not fit a register", write)
		}
		if err := link.Write(ctx, addressing, start, uint16(write)); err != nil {
			return err
		}
		fmt.Printf("wrote %d to %s %d\n", write, addressing, start)

	case sensorsPath != "":
		sensors, err := device.LoadSensors(sensorsPath)
		if err != nil {
			return err
		}
		for _, s := range sensors {
			s = s.Normalize()
			value, err := link.Read(ctx, s.Kind, s.Start, s.Quantity())
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", s.ID, err)
				continue
			}
			_ = out.Encode(types.NewReading(s, value, time.Now()))
		}

	default:
		value, err := link.Read(ctx, addressing, start, count)
		if err != nil {
			return err
		}
		_ = out.Encode(map[string]any{"kind": addressing, "start": start, "count": count, "value": value})
	}
	return nil
}
