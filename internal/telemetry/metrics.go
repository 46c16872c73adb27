// Package telemetry exposes Prometheus metrics derived from eventbus events.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcwatch/internal/eventbus"
	"mcwatch/internal/roster"
)

const namespace = "mcwatch"

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	ProbesTotal   *prometheus.CounterVec
	ProbeDuration prometheus.Histogram
	Up            prometheus.Gauge
	PlayersOnline prometheus.Gauge
	Transitions   *prometheus.CounterVec
	AlertsTotal   *prometheus.CounterVec
	buildInfo     *prometheus.GaugeVec
}

func New() *Metrics {
	startTime := time.Now()
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Status probes by result.",
		}, []string{"result"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of status probes.",
			// 5ms .. ~40s
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_up",
			Help:      "1 if the last probe succeeded, 0 otherwise.",
		}),
		PlayersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_online",
			Help:      "Players seen by the last successful probe.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Roster and availability transitions by kind.",
		}, []string{"kind"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert deliveries by sink and result.",
		}, []string{"sink", "result"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		}, []string{"version"}),
	}
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.Registry.MustRegister(
		m.ProbesTotal, m.ProbeDuration, m.Up, m.PlayersOnline,
		m.Transitions, m.AlertsTotal, m.buildInfo, uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackBus exports the bus drop counter. Call it once per bus.
func (m *Metrics) TrackBus(bus eventbus.Bus) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Events not delivered because a subscriber was full.",
	}, func() float64 { return float64(bus.Dropped()) }))
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Observe folds one bus event into the metrics.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeProbe:
		r, ok := e.Data.(eventbus.ProbeResult)
		if !ok {
			return
		}
		m.ProbeDuration.Observe(r.Took.Seconds())
		if r.OK {
			m.ProbesTotal.WithLabelValues("ok").Inc()
			m.Up.Set(1)
			m.PlayersOnline.Set(float64(r.Players))
		} else {
			m.ProbesTotal.WithLabelValues("error").Inc()
			m.Up.Set(0)
			m.PlayersOnline.Set(0)
		}
	case eventbus.TypeTransition:
		if ev, ok := e.Data.(roster.Event); ok {
			m.Transitions.WithLabelValues(ev.Kind.String()).Inc()
		}
	case eventbus.TypeSent, eventbus.TypeFailed:
		d, ok := e.Data.(eventbus.Delivery)
		if !ok {
			return
		}
		result := "ok"
		if e.Type == eventbus.TypeFailed {
			result = "error"
		}
		m.AlertsTotal.WithLabelValues(d.Sink, result).Inc()
	}
}

// Consume subscribes to bus and observes events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
