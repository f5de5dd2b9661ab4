// Package metrics exports supervisor state as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scienceol/barista/internal/power"
)

var phases = []power.Phase{power.PhaseStopped, power.PhaseStarting, power.PhaseRunning, power.PhaseStopping}

// Metrics holds the supervisor collectors.
type Metrics struct {
	Phase  *prometheus.GaugeVec
	PID    prometheus.Gauge
	Spawns prometheus.Counter
	Errors *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barista_supervisor_phase",
			Help: "1 for the current supervisor phase, 0 otherwise",
		}, []string{"phase"}),
		PID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "barista_helper_pid",
			Help: "PID of the live helper process, 0 when stopped",
		}),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barista_spawns_total",
			Help: "Helper processes observed since startup",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barista_errors_total",
			Help: "Supervisor errors by kind",
		}, []string{"kind"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Phase, m.PID, m.Spawns, m.Errors,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.Observe(power.Status{})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Track updates the gauges from sup until ctx is done. Counters are fed
// by Spawned and Failed instead, since subscribers only see the latest
// status.
func (m *Metrics) Track(ctx context.Context, sup interface {
	Subscribe() (<-chan power.Status, func())
}) {
	updates, cancel := sup.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			m.Observe(st)
		}
	}
}

// Observe sets the gauges from st.
func (m *Metrics) Observe(st power.Status) {
	for _, p := range phases {
		v := 0.0
		if p == st.Phase {
			v = 1
		}
		m.Phase.WithLabelValues(p.String()).Set(v)
	}
	m.PID.Set(float64(st.PID))
}

// Spawned counts one helper start. It matches power.WithOnSpawn.
func (m *Metrics) Spawned(int) {
	m.Spawns.Inc()
}

// Failed counts err by kind. It matches power.WithOnError.
func (m *Metrics) Failed(err error) {
	m.Errors.WithLabelValues(errorKind(err)).Inc()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, power.ErrSpawnFailed):
		return "spawn_failed"
	case errors.Is(err, power.ErrTerminationTimeout):
		return "termination_timeout"
	case errors.Is(err, power.ErrUnexpectedExit):
		return "unexpected_exit"
	default:
		return "other"
	}
}
