// Package mqttchannel carries agent commands and readings over an MQTT broker.
package mqttchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"plc_agent/internal/command"
	"plc_agent/internal/types"
)

// Config describes the broker connection and topic layout.
type Config struct {
	Broker      string
	Username    string
	Password    string
	Token       string // used as username when Username is empty
	TopicPrefix string
	AgentID     string
	QoS         byte
}

// Channel subscribes to <prefix>/<agent>/commands and publishes to <prefix>/<agent>/<topic>.
type Channel struct {
	config  Config
	client  mqtt.Client
	inbound   chan command.Command
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	once      sync.Once
	logger    *slog.Logger
}

// New creates a channel with auto-reconnect enabled. Call Connect to dial the broker.
func New(cfg Config, logger *slog.Logger) *Channel {
	c := newChannel(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("plc-agent-%s", cfg.AgentID))
	username := cfg.Username
	if username == "" {
		username = cfg.Token
	}
	opts.SetUsername(username)
	opts.SetPassword(cfg.Password)

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		c.logger.Debug("unexpected message", "topic", msg.Topic())
	})
	// subscribe again on every (re)connect since the session is clean
	opts.OnConnect = func(client mqtt.Client) {
		c.logger.Info("connected to broker", "broker", cfg.Broker)
		c.markReady()
		if err := c.subscribe(client); err != nil {
			c.logger.Error("subscribe failed", "topic", c.commandTopic(), "error", err)
		}
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		c.logger.Warn("connection to broker lost", "error", err)
	}
	opts.OnReconnecting = func(client mqtt.Client, opts *mqtt.ClientOptions) {
		c.logger.Info("reconnecting to broker")
	}

	c.client = mqtt.NewClient(opts)
	return c
}

func newChannel(cfg Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "plc_agent"
	}
	return &Channel{
		config:  cfg,
		inbound: make(chan command.Command, 64),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		logger:  logger.With("component", "mqtt"),
	}
}

// Connect waits for the first connection. While ctx allows it the client keeps retrying;
// after ctx expires the retries continue in the background.
func (c *Channel) Connect(ctx context.Context) error {
	c.logger.Info("connecting to broker", "broker", c.config.Broker)
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return types.NewError(types.KindChannel, "connect", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return types.NewError(types.KindChannel, "connect", err)
	}
	c.markReady()
	return nil
}

// Ready is closed once the broker connection has come up for the first time.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

func (c *Channel) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Receive returns the next decoded command.
func (c *Channel) Receive(ctx context.Context) (command.Command, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, types.NewError(types.KindChannel, "receive", types.ErrDisconnected)
	case cmd := <-c.inbound:
		return cmd, nil
	}
}

// Publish sends payload as JSON. It fails with ErrDisconnected while the broker is unreachable.
func (c *Channel) Publish(ctx context.Context, topic string, payload any) error {
	if !c.client.IsConnectionOpen() {
		return types.NewError(types.KindChannel, "publish "+topic, types.ErrDisconnected)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.KindInternal, "publish "+topic, err)
	}

	token := c.client.Publish(c.topic(topic), c.config.QoS, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return types.NewError(types.KindChannel, "publish "+topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			err = fmt.Errorf("%w: %v", types.ErrDisconnected, err)
		}
		return types.NewError(types.KindChannel, "publish "+topic, err)
	}
	return nil
}

// Close disconnects from the broker and unblocks Receive.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.client.IsConnected() {
			c.client.Disconnect(250)
		}
		c.logger.Info("mqtt channel closed")
	})
}

func (c *Channel) subscribe(client mqtt.Client) error {
	token := client.Subscribe(c.commandTopic(), c.config.QoS, c.handleMessage)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	c.logger.Info("subscribed", "topic", c.commandTopic())
	return nil
}

func (c *Channel) handleMessage(client mqtt.Client, msg mqtt.Message) {
	cmd, err := command.Decode(msg.Payload())
	if err != nil {
		if errors.Is(err, command.ErrUnknownEvent) {
			c.logger.Info("ignoring unknown event", "error", err)
		} else {
			c.logger.Warn("dropping malformed command", "topic", msg.Topic(), "error", err)
		}
		return
	}

	select {
	case c.inbound <- cmd:
	case <-c.done:
	}
}

func (c *Channel) commandTopic() string {
	return c.topic("commands")
}

func (c *Channel) topic(name string) string {
	return fmt.Sprintf("%s/%s/%s", c.config.TopicPrefix, c.config.AgentID, name)
}
