package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.ReadDone(nil)
	p.ReadDone(errors.New("timeout"))
	if got := testutil.ToFloat64(p.counters[readsTotal]); got != 2 {
		t.Fatalf("expected 2 reads, got %f", got)
	}
	if got := testutil.ToFloat64(p.counters[readErrorsTotal]); got != 1 {
		t.Fatalf("expected 1 read error, got %f", got)
	}

	p.SensorSkipped()
	p.RegistryCleared()
	p.RegistryCleared()
	if got := testutil.ToFloat64(p.counters[clearsTotal]); got != 2 {
		t.Fatalf("expected 2 clears, got %f", got)
	}

	p.SetSensors(4)
	p.SetPaused(true)
	if got := testutil.ToFloat64(p.gauges[sensorsGauge]); got != 4 {
		t.Fatalf("expected sensors gauge 4, got %f", got)
	}
	if got := testutil.ToFloat64(p.gauges[pausedGauge]); got != 1 {
		t.Fatalf("expected paused gauge 1, got %f", got)
	}

	p.CommandHandled("write", "locked")
	if got := testutil.ToFloat64(p.commands.WithLabelValues("write", "locked")); got != 1 {
		t.Fatalf("expected 1 locked write, got %f", got)
	}

	p.Published("monitoring_streamline", nil)
	p.Published("monitoring_streamline", errors.New("closed"))
	if got := testutil.ToFloat64(p.publishes.WithLabelValues("monitoring_streamline", "error")); got != 1 {
		t.Fatalf("expected 1 failed publish, got %f", got)
	}

	p.TickDone(3 * time.Millisecond)
	hCollector := p.histos[tickDurationHist].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}
}

func TestRegistryClearsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)
	p.RegistryCleared()

	expected := `
# HELP plc_agent_registry_clears_total Registry clears caused by a lost control channel connection.
# TYPE plc_agent_registry_clears_total counter
plc_agent_registry_clears_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), clearsTotal); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)
	p.SetSensors(2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "plc_agent_sensors 2") {
		t.Fatalf("expected sensors gauge in output, got:\n%s", body)
	}
}
