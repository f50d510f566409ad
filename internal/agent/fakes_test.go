package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"plc_agent/internal/command"
	"plc_agent/internal/types"
)

type writeCall struct {
	kind     types.AddressingKind
	register uint16
	value    uint16
}

// fakeLink is an in-memory device link whose reads can fail or block per start address.
type fakeLink struct {
	mutex    sync.Mutex
	values   map[uint16]uint16
	failRead map[uint16]error
	block    map[uint16]chan struct{}
	writeErr error
	writes   []writeCall
	stops    int
	reads    int
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		values:   make(map[uint16]uint16),
		failRead: make(map[uint16]error),
		block:    make(map[uint16]chan struct{}),
	}
}

func (l *fakeLink) Read(ctx context.Context, kind types.AddressingKind, start, end uint16) (uint16, error) {
	l.mutex.Lock()
	l.reads++
	gate := l.block[start]
	l.mutex.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.failRead[start]; err != nil {
		return 0, err
	}
	return l.values[start], nil
}

func (l *fakeLink) Write(ctx context.Context, kind types.AddressingKind, register, value uint16) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, writeCall{kind: kind, register: register, value: value})
	l.values[register] = value
	return nil
}

func (l *fakeLink) Stop(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.stops++
	return nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) writeCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.writes) + l.stops
}

type published struct {
	topic   string
	payload any
}

// fakeChannel records publishes and feeds commands from a Go channel.
type fakeChannel struct {
	mutex      sync.Mutex
	inbound    chan command.Command
	published  []published
	publishErr func(topic string) error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan command.Command, 16)}
}

func (c *fakeChannel) Receive(ctx context.Context) (command.Command, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cmd, ok := <-c.inbound:
		if !ok {
			return nil, errors.New("closed")
		}
		return cmd, nil
	}
}

func (c *fakeChannel) Publish(ctx context.Context, topic string, payload any) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.publishErr != nil {
		if err := c.publishErr(topic); err != nil {
			return err
		}
	}
	c.published = append(c.published, published{topic: topic, payload: payload})
	return nil
}

func (c *fakeChannel) onTopic(topic string) []any {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []any
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

func (c *fakeChannel) readings() []types.Reading {
	var out []types.Reading
	for _, p := range c.onTopic(TopicMonitoring) {
		out = append(out, p.(types.Reading))
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectingChannel is a fakeChannel that reports disconnected until ready is closed.
type connectingChannel struct {
	*fakeChannel
	ready chan struct{}
}

func newConnectingChannel() *connectingChannel {
	c := &connectingChannel{fakeChannel: newFakeChannel(), ready: make(chan struct{})}
	c.publishErr = func(topic string) error {
		select {
		case <-c.ready:
			return nil
		default:
			return types.NewError(types.KindChannel, "publish "+topic, types.ErrDisconnected)
		}
	}
	return c
}

func (c *connectingChannel) Ready() <-chan struct{} { return c.ready }
