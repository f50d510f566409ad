// Command agent runs the PLC field agent: it polls the controller over Modbus and
// takes its orders from the control plane over MQTT or WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"plc_agent/internal/agent"
	"plc_agent/internal/cache"
	"plc_agent/internal/config"
	"plc_agent/internal/device"
	mqttchannel "plc_agent/internal/integration/mqtt"
	wschannel "plc_agent/internal/integration/websocket"
	"plc_agent/internal/metrics"
	"plc_agent/internal/protocol/factory"
)

const defaultConfigPath = "/etc/plc_agent/agent.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var sensorsPath string

	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the agent config file (JSON or YAML)")
	flagSet.StringVar(&sensorsPath, "sensors", "", "sensor file to register at startup (JSON or YAML)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if env := os.Getenv("AGENT_CONFIG"); env != "" && !flagSet.Changed("config") {
		configPath = env
	}

	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("agent_id", cfg.Agent.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.NewProm(reg)

	link, err := factory.CreateDeviceLink(cfg.Modbus, logger)
	if link == nil {
		return fmt.Errorf("create device link: %w", err)
	}
	if err != nil {
		logger.Warn("device link not connected yet, retrying on first request", "error", err)
	}
	defer link.Close()

	registry := device.NewRegistry()
	if sensorsPath != "" {
		sensors, err := device.LoadSensors(sensorsPath)
		if err != nil {
			return err
		}
		for _, s := range sensors {
			registry.Add(s)
		}
		logger.Info("registered sensors from file", "path", sensorsPath, "sensors", len(sensors))
	}
	if cfg.Cache.Path != "" {
		c := cache.New(cfg.Cache.Path, logger)
		if _, err := c.Restore(registry); err != nil {
			logger.Warn("sensor cache not restored", "error", err)
		}
		go c.Run(ctx, registry)
	}
	promMetrics.SetSensors(registry.Len())

	var channel agent.ControlChannel
	switch cfg.Channel.Transport {
	case config.TransportMQTT:
		mc := mqttchannel.New(mqttchannel.Config{
			Broker:      cfg.Channel.MQTT.Broker,
			Username:    cfg.Channel.MQTT.Username,
			Password:    cfg.Channel.MQTT.Password,
			Token:       cfg.Channel.Token,
			TopicPrefix: cfg.Channel.MQTT.TopicPrefix,
			AgentID:     cfg.Agent.ID,
			QoS:         cfg.Channel.MQTT.QoS,
		}, logger)
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := mc.Connect(connectCtx); err != nil {
			logger.Warn("broker not reachable yet, retrying in background", "error", err)
		}
		cancel()
		defer mc.Close()
		channel = mc
	case config.TransportWebSocket:
		wc := wschannel.New(wschannel.Config{
			URL:        cfg.Channel.WebSocket.URL,
			Token:      cfg.Channel.Token,
			AgentID:    cfg.Agent.ID,
			MaxBackoff: time.Duration(cfg.Channel.WebSocket.MaxBackoffMS) * time.Millisecond,
		}, logger)
		wc.Start(ctx)
		defer wc.Close()
		channel = wc
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("metrics server exited", "error", err)
			}
		}()
	}

	a := agent.New(registry, link, channel, agent.Options{
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
		Metrics:      promMetrics,
	})
	return a.Run(ctx)
}
