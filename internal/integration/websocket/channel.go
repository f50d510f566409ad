// Package wschannel carries agent commands and readings over a WebSocket to the control plane.
package wschannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"plc_agent/internal/command"
	"plc_agent/internal/types"
)

const (
	// AckTopic carries the acknowledgement sent after every inbound frame.
	AckTopic = "data"

	writeTimeout = 10 * time.Second
)

// Config describes the control plane endpoint.
type Config struct {
	URL            string
	Token          string
	AgentID        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Frame is the outbound envelope.
type Frame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Channel keeps one WebSocket open, reconnecting with exponential backoff.
type Channel struct {
	config Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mutex sync.Mutex
	conn  *websocket.Conn

	inbound   chan command.Command
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	once      sync.Once
	wg        sync.WaitGroup
}

// New creates a channel for cfg. Call Start to begin connecting.
func New(cfg Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Channel{
		config:  cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:  logger.With("component", "websocket"),
		inbound: make(chan command.Command, 64),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Start runs the connect-and-read loop in the background until ctx is cancelled or Close is called.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil
}

// Ready is closed once the first connection has been established.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
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

// Publish writes a {"topic","payload"} frame. It fails with ErrDisconnected while no connection is open.
func (c *Channel) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(Frame{Topic: topic, Payload: payload})
	if err != nil {
		return types.NewError(types.KindInternal, "publish "+topic, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		return types.NewError(types.KindChannel, "publish "+topic, types.ErrDisconnected)
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// a failed write leaves the connection unusable; the read loop redials
		c.conn.Close()
		c.conn = nil
		return types.NewError(types.KindChannel, "publish "+topic, fmt.Errorf("%w: %v", types.ErrDisconnected, err))
	}
	return nil
}

// Close stops the reconnect loop and closes the connection.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		c.mutex.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.conn.Close()
			c.conn = nil
		}
		c.mutex.Unlock()
	})
	c.wg.Wait()
	c.logger.Info("websocket channel closed")
	return nil
}

func (c *Channel) run(ctx context.Context) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return
		}
		c.mutex.Lock()
		c.conn = conn
		c.mutex.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })

		c.readLoop(ctx, conn)

		c.mutex.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mutex.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("control plane connection lost, reconnecting")
	}
}

// dial retries until it connects or ctx is done.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	header.Set("X-Agent-Type", "agent")
	if c.config.AgentID != "" {
		header.Set("X-Agent-Id", c.config.AgentID)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	operation := func() error {
		var resp *http.Response
		var err error
		conn, resp, err = c.dialer.DialContext(ctx, c.config.URL, header)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.logger.Error("control plane rejected the agent token")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("connect to control plane failed", "url", c.config.URL, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	c.logger.Info("connected to control plane", "url", c.config.URL)
	return conn, nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", messageType, "bytes", len(data))
			continue
		}

		c.handle(ctx, data)

		if err := c.Publish(ctx, AckTopic, map[string]string{"status": "received"}); err != nil {
			c.logger.Warn("acknowledgement failed", "error", err)
		}
	}
}

func (c *Channel) handle(ctx context.Context, data []byte) {
	cmd, err := command.Decode(data)
	if err != nil {
		if errors.Is(err, command.ErrUnknownEvent) {
			c.logger.Info("ignoring unknown event", "error", err)
		} else {
			c.logger.Warn("dropping malformed command", "error", err)
		}
		return
	}
	select {
	case c.inbound <- cmd:
	case <-ctx.Done():
	}
}
