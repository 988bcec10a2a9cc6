// Package metrics exposes Prometheus instrumentation for the playback daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback controllers.
type Metrics struct {
	registry          *prometheus.Registry
	transitionsTotal  *prometheus.CounterVec
	silentRetries     prometheus.Counter
	reconnectsTotal   prometheus.Counter
	freezesTotal      prometheus.Counter
	resyncsTotal      prometheus.Counter
	behindLiveSeconds *prometheus.GaugeVec
	activeControllers prometheus.Gauge
}

// New creates and registers Prometheus metrics for the daemon.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_state_transitions_total",
		Help: "Total number of controller state transitions, by target state",
	}, []string{"state"})
	silentRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_silent_retries_total",
		Help: "Total number of silent early-load retries",
	})
	reconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_reconnect_attempts_total",
		Help: "Total number of reconnect attempts",
	})
	freezesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_freezes_detected_total",
		Help: "Total number of confirmed playback freezes",
	})
	resyncsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_live_resyncs_total",
		Help: "Total number of skip-to-live seeks issued",
	})
	behindLiveSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_behind_live_seconds",
		Help: "Current behind-live distance per stream",
	}, []string{"stream"})
	activeControllers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_active_controllers",
		Help: "Number of live playback controllers",
	})

	registry.MustRegister(
		transitionsTotal,
		silentRetries,
		reconnectsTotal,
		freezesTotal,
		resyncsTotal,
		behindLiveSeconds,
		activeControllers,
	)

	return &Metrics{
		registry:          registry,
		transitionsTotal:  transitionsTotal,
		silentRetries:     silentRetries,
		reconnectsTotal:   reconnectsTotal,
		freezesTotal:      freezesTotal,
		resyncsTotal:      resyncsTotal,
		behindLiveSeconds: behindLiveSeconds,
		activeControllers: activeControllers,
	}
}

// IncTransition counts one state transition. Nil-safe.
func (m *Metrics) IncTransition(state string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(state).Inc()
}

// IncSilentRetry counts one silent early-load retry. Nil-safe.
func (m *Metrics) IncSilentRetry() {
	if m == nil {
		return
	}
	m.silentRetries.Inc()
}

// IncReconnect counts one reconnect attempt. Nil-safe.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// IncFreeze counts one confirmed freeze. Nil-safe.
func (m *Metrics) IncFreeze() {
	if m == nil {
		return
	}
	m.freezesTotal.Inc()
}

// IncResync counts one skip-to-live seek. Nil-safe.
func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	m.resyncsTotal.Inc()
}

// SetBehindLive records the behind-live distance for a stream. Nil-safe.
func (m *Metrics) SetBehindLive(stream string, seconds float64) {
	if m == nil {
		return
	}
	m.behindLiveSeconds.WithLabelValues(stream).Set(seconds)
}

// DropStream removes per-stream series once a controller is gone. Nil-safe.
func (m *Metrics) DropStream(stream string) {
	if m == nil {
		return
	}
	m.behindLiveSeconds.DeleteLabelValues(stream)
}

// SetActiveControllers sets the live controller gauge. Nil-safe.
func (m *Metrics) SetActiveControllers(n int) {
	if m == nil {
		return
	}
	m.activeControllers.Set(float64(n))
}

// Handler returns an http.Handler that serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
