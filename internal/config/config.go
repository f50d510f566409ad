package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPath is read for overrides unless AGENT_ENV_PATH points elsewhere.
const DefaultEnvPath = "/etc/plc_agent/agent.env"

// Control channel transports.
const (
	TransportMQTT      = "mqtt"
	TransportWebSocket = "websocket"
)

// AgentSettings configures the agent control loop.
type AgentSettings struct {
	ID             string `json:"id" yaml:"id"`
	PollIntervalMS int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// ModbusSettings defines the device link connection.
type ModbusSettings struct {
	Mode         string `json:"mode" yaml:"mode"` // tcp or rtu
	Address      string `json:"address" yaml:"address"`
	SlaveID      byte   `json:"slave_id" yaml:"slave_id"`
	BaudRate     int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits     int    `json:"data_bits" yaml:"data_bits"`
	StopBits     int    `json:"stop_bits" yaml:"stop_bits"`
	Parity       string `json:"parity" yaml:"parity"`
	TimeoutMS    int    `json:"timeout_ms" yaml:"timeout_ms"`
	StopRegister uint16 `json:"stop_register" yaml:"stop_register"`
	StopValue    uint16 `json:"stop_value" yaml:"stop_value"`
}

// MQTTSettings configures the MQTT control channel.
type MQTTSettings struct {
	Broker      string `json:"broker" yaml:"broker"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

// WebSocketSettings configures the WebSocket control channel.
type WebSocketSettings struct {
	URL          string `json:"url" yaml:"url"`
	MaxBackoffMS int    `json:"max_backoff_ms" yaml:"max_backoff_ms"`
}

// ChannelSettings selects and configures the control channel.
type ChannelSettings struct {
	Transport string            `json:"transport" yaml:"transport"`
	Token     string            `json:"token" yaml:"token"`
	MQTT      MQTTSettings      `json:"mqtt" yaml:"mqtt"`
	WebSocket WebSocketSettings `json:"websocket" yaml:"websocket"`
}

type MetricsSettings struct {
	Addr string `json:"addr" yaml:"addr"`
}

// CacheSettings enables the on-disk sensor cache when Path is set.
type CacheSettings struct {
	Path string `json:"path" yaml:"path"`
}

type LogSettings struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// AppConfig is the top-level configuration structure.
type AppConfig struct {
	Agent   AgentSettings   `json:"agent" yaml:"agent"`
	Modbus  ModbusSettings  `json:"modbus" yaml:"modbus"`
	Channel ChannelSettings `json:"channel" yaml:"channel"`
	Metrics MetricsSettings `json:"metrics" yaml:"metrics"`
	Cache   CacheSettings   `json:"cache" yaml:"cache"`
	Log     LogSettings     `json:"log" yaml:"log"`
}

// Defaults returns the configuration used when neither file nor environment set a value.
func Defaults() *AppConfig {
	return &AppConfig{
		Agent: AgentSettings{
			PollIntervalMS: 100,
		},
		Modbus: ModbusSettings{
			Mode:      "tcp",
			Address:   "localhost:502",
			SlaveID:   1,
			BaudRate:  9600,
			DataBits:  8,
			StopBits:  1,
			Parity:    "N",
			TimeoutMS: 1000,
			StopValue: 0b00001000,
		},
		Channel: ChannelSettings{
			Transport: TransportWebSocket,
			MQTT: MQTTSettings{
				Broker:      "tcp://localhost:1883",
				TopicPrefix: "plc_agent",
				QoS:         1,
			},
			WebSocket: WebSocketSettings{
				URL:          "ws://localhost:9001/agent",
				MaxBackoffMS: 30000,
			},
		},
		Metrics: MetricsSettings{Addr: ":9100"},
		Log:     LogSettings{Level: "info", Format: "json"},
	}
}

// PollInterval returns the scheduler cadence.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Agent.PollIntervalMS) * time.Millisecond
}

// LoadAppConfig loads defaults, then the config file (JSON, or YAML by extension),
// then the .env file and environment overrides.
func LoadAppConfig(configFilePath string) (*AppConfig, error) {
	logger := slog.Default().With("component", "config")
	appConfig := Defaults()

	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			logger.Warn("could not read config file, using defaults and environment", "path", configFilePath, "error", err)
		} else {
			if err := decode(configFilePath, data, appConfig); err != nil {
				return nil, fmt.Errorf("error unmarshalling config file %s: %w", configFilePath, err)
			}
			logger.Info("loaded configuration file", "path", configFilePath)
		}
	}

	envPath := DefaultEnvPath
	if p := os.Getenv("AGENT_ENV_PATH"); p != "" {
		envPath = p
	}
	if err := godotenv.Load(envPath); err != nil {
		logger.Debug("no .env file loaded", "path", envPath, "error", err)
	} else {
		logger.Info("loaded .env file", "path", envPath)
	}

	applyEnv(appConfig, logger)

	if appConfig.Agent.ID == "" {
		appConfig.Agent.ID = uuid.NewString()
		logger.Info("generated agent id", "agent_id", appConfig.Agent.ID)
	}

	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return appConfig, nil
}

func decode(path string, data []byte, into *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, into)
	default:
		return json.Unmarshal(data, into)
	}
}

func applyEnv(c *AppConfig, logger *slog.Logger) {
	str := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
			logger.Debug("env override", "key", key)
		}
	}
	num := func(key string, dst *int) {
		val := os.Getenv(key)
		if val == "" {
			return
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			logger.Warn("could not parse env override", "key", key, "value", val, "error", err)
			return
		}
		*dst = n
	}

	str("AGENT_ID", &c.Agent.ID)
	num("POLL_INTERVAL_MS", &c.Agent.PollIntervalMS)
	str("PLC_MODE", &c.Modbus.Mode)
	str("PLC_HOSTNAME", &c.Modbus.Address)
	if val := os.Getenv("PLC_SLAVE_ID"); val != "" {
		id, err := strconv.ParseUint(val, 10, 8)
		if err != nil {
			logger.Warn("could not parse env override", "key", "PLC_SLAVE_ID", "value", val, "error", err)
		} else {
			c.Modbus.SlaveID = byte(id)
		}
	}
	str("CONTROL_TRANSPORT", &c.Channel.Transport)
	str("AGENT_TOKEN", &c.Channel.Token)
	str("WS_URL", &c.Channel.WebSocket.URL)
	str("MQTT_BROKER", &c.Channel.MQTT.Broker)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("CACHE_PATH", &c.Cache.Path)
	str("LOG_LEVEL", &c.Log.Level)
}

// Validate checks the settings the agent cannot run without.
func (c *AppConfig) Validate() error {
	if c.Agent.PollIntervalMS <= 0 {
		return fmt.Errorf("agent.poll_interval_ms must be positive, got %d", c.Agent.PollIntervalMS)
	}
	switch c.Modbus.Mode {
	case "tcp", "rtu":
	default:
		return fmt.Errorf("modbus.mode must be tcp or rtu, got %q", c.Modbus.Mode)
	}
	if c.Modbus.Address == "" {
		return fmt.Errorf("modbus.address is required")
	}
	switch c.Channel.Transport {
	case TransportMQTT:
		if c.Channel.MQTT.Broker == "" {
			return fmt.Errorf("channel.mqtt.broker is required")
		}
		if c.Channel.MQTT.QoS > 2 {
			return fmt.Errorf("channel.mqtt.qos must be 0, 1 or 2")
		}
	case TransportWebSocket:
		if c.Channel.WebSocket.URL == "" {
			return fmt.Errorf("channel.websocket.url is required")
		}
	default:
		return fmt.Errorf("channel.transport must be %s or %s, got %q", TransportMQTT, TransportWebSocket, c.Channel.Transport)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by the log settings.
func (l LogSettings) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
