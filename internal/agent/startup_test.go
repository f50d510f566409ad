package agent

import (
	"context"
	"path/filepath"
	"testing"

	"plc_agent/internal/cache"
	"plc_agent/internal/device"
	"plc_agent/internal/metrics"
	"plc_agent/internal/types"
)

func TestCachedSensorsSurviveUntilChannelConnects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.json")
	if err := device.SaveSensors(path, []types.SensorDescriptor{{ID: "s1", Start: 512, End: 1}}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	registry := device.NewRegistry()
	c := cache.New(path, discardLogger())
	if n, err := c.Restore(registry); err != nil || n != 1 {
		t.Fatalf("expected 1 restored sensor, got %d, %v", n, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cacheDone := make(chan struct{})
	go func() {
		c.Run(ctx, registry)
		close(cacheDone)
	}()

	link := newFakeLink()
	link.values[512] = 9
	channel := newConnectingChannel()
	s := NewScheduler(registry, link, channel, DefaultPollInterval, discardLogger(), metrics.Nop{})

	for i := 0; i < 3; i++ {
		if n := s.Tick(ctx); n != 0 {
			t.Fatalf("expected no reads before the channel connects, got %d", n)
		}
	}
	s.Wait()
	if registry.Len() != 1 {
		t.Fatalf("expected restored sensor kept before first connect, got %d sensors", registry.Len())
	}

	close(channel.ready)
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("expected one read after connect, got %d", n)
	}
	s.Wait()
	readings := channel.readings()
	if len(readings) != 1 || readings[0].SensorID != "s1" || readings[0].Value != 9 {
		t.Fatalf("unexpected readings %+v", readings)
	}

	cancel()
	<-cacheDone
	sensors, err := device.LoadSensors(path)
	if err != nil || len(sensors) != 1 || sensors[0].ID != "s1" {
		t.Fatalf("expected cache file to keep s1, got %+v, %v", sensors, err)
	}
	if link.reads != 1 {
		t.Fatalf("expected a single read, got %d", link.reads)
	}
}

func TestDisconnectAfterFirstConnectStillClears(t *testing.T) {
	registry := device.NewRegistry()
	registry.Add(types.SensorDescriptor{ID: "s1", Start: 512, End: 1})
	channel := newConnectingChannel()
	close(channel.ready)
	s := NewScheduler(registry, newFakeLink(), channel, DefaultPollInterval, discardLogger(), metrics.Nop{})

	channel.mutex.Lock()
	channel.publishErr = func(topic string) error {
		return types.NewError(types.KindChannel, "publish "+topic, types.ErrDisconnected)
	}
	channel.mutex.Unlock()

	s.Tick(context.Background())
	s.Wait()
	if registry.Len() != 0 {
		t.Fatalf("expected registry cleared, got %d sensors", registry.Len())
	}
}
