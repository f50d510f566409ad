// Command plcsim serves a simulated controller over Modbus TCP for local runs of the agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"plc_agent/internal/simulator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var listen string
	var size int
	var interval time.Duration
	var random []uint
	var verbose bool

	flagSet := pflag.NewFlagSet("plcsim", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "tcp://0.0.0.0:502", "Modbus TCP listen URL")
	flagSet.IntVar(&size, "size", simulator.DefaultSize, "number of holding registers and coils")
	flagSet.DurationVar(&interval, "interval", time.Second, "how often the random registers change")
	flagSet.UintSliceVar(&random, "random", []uint{512, 513}, "holding registers filled with random values")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every write")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plc := simulator.NewPLC(size, logger)
	if err := plc.Start(listen); err != nil {
		return err
	}
	defer plc.Stop()

	addrs := make([]uint16, 0, len(random))
	for _, r := range random {
		if r >= uint(size) {
			return fmt.Errorf("random register %d outside 0..%d", r, size-1)
		}
		addrs = append(addrs, uint16(r))
	}
	if len(addrs) > 0 {
		go plc.Randomize(ctx, interval, addrs...)
	}

	<-ctx.Done()
	logger.Info("simulated plc shutting down")
	return nil
}
