// Package metrics exposes agent counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	readsTotal       = "plc_agent_reads_total"
	readErrorsTotal  = "plc_agent_read_errors_total"
	skipsTotal       = "plc_agent_sensor_skips_total"
	clearsTotal      = "plc_agent_registry_clears_total"
	sensorsGauge     = "plc_agent_sensors"
	pausedGauge      = "plc_agent_paused"
	tickDurationHist = "plc_agent_tick_duration_seconds"
)

// Prom records agent activity in Prometheus collectors.
type Prom struct {
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	histos    map[string]prometheus.Observer
	commands  *prometheus.CounterVec
	publishes *prometheus.CounterVec
}

// NewProm creates the collectors and registers them on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	reads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: readsTotal,
		Help: "Sensor reads issued to the device link.",
	})
	readErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: readErrorsTotal,
		Help: "Sensor reads that failed.",
	})
	skips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: skipsTotal,
		Help: "Sensors skipped on a tick because the previous read was still in flight.",
	})
	clears := prometheus.NewCounter(prometheus.CounterOpts{
		Name: clearsTotal,
		Help: "Registry clears caused by a lost control channel connection.",
	})
	sensors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: sensorsGauge,
		Help: "Sensors currently registered.",
	})
	paused := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: pausedGauge,
		Help: "1 while the agent is paused.",
	})
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    tickDurationHist,
		Help:    "Time taken to dispatch one polling tick.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plc_agent_commands_total",
		Help: "Commands received from the control channel.",
	}, []string{"command", "result"})
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plc_agent_publishes_total",
		Help: "Messages published on the control channel.",
	}, []string{"topic", "result"})

	reg.MustRegister(reads, readErrors, skips, clears, sensors, paused, tick, commands, publishes)

	return &Prom{
		counters: map[string]prometheus.Counter{
			readsTotal:      reads,
			readErrorsTotal: readErrors,
			skipsTotal:      skips,
			clearsTotal:     clears,
		},
		gauges: map[string]prometheus.Gauge{
			sensorsGauge: sensors,
			pausedGauge:  paused,
		},
		histos: map[string]prometheus.Observer{
			tickDurationHist: tick,
		},
		commands:  commands,
		publishes: publishes,
	}
}

func (p *Prom) inc(name string) {
	if c, ok := p.counters[name]; ok {
		c.Inc()
	}
}

func (p *Prom) set(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

// CommandHandled counts a command. result is "ok", "error" or "locked".
func (p *Prom) CommandHandled(command, result string) {
	p.commands.WithLabelValues(command, result).Inc()
}

func (p *Prom) ReadDone(err error) {
	p.inc(readsTotal)
	if err != nil {
		p.inc(readErrorsTotal)
	}
}

func (p *Prom) Published(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.publishes.WithLabelValues(topic, result).Inc()
}

func (p *Prom) SensorSkipped() { p.inc(skipsTotal) }

func (p *Prom) RegistryCleared() { p.inc(clearsTotal) }

func (p *Prom) TickDone(d time.Duration) {
	if h, ok := p.histos[tickDurationHist]; ok {
		h.Observe(d.Seconds())
	}
}

func (p *Prom) SetSensors(n int) { p.set(sensorsGauge, float64(n)) }

func (p *Prom) SetPaused(paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	p.set(pausedGauge, v)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CommandHandled(string, string) {}
func (Nop) ReadDone(error)                {}
func (Nop) Published(string, error)       {}
func (Nop) SensorSkipped()                {}
func (Nop) RegistryCleared()              {}
func (Nop) TickDone(time.Duration)        {}
func (Nop) SetSensors(int)                {}
func (Nop) SetPaused(bool)                {}
