package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the sync engine.
// The same set is registered on both roles; counters that a role never
// touches simply stay at zero.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	ticksBroadcastTotal    prometheus.Counter
	ticksReceivedTotal     prometheus.Counter
	malformedTotal         prometheus.Counter
	cuesFiredTotal         prometheus.Counter
	correctionsTotal       prometheus.Counter
	commandsSentTotal      prometheus.Counter
	commandsReceivedTotal  prometheus.Counter
	collaboratorsKnown     prometheus.Gauge
	collaboratorsOnline    prometheus.Gauge
	averageDriftSeconds    prometheus.Gauge
}

// New creates and registers Prometheus metrics for the sync engine.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	m.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	m.ticksBroadcastTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_ticks_broadcast_total",
		Help: "Total number of clock ticks broadcast by the leader",
	})
	m.ticksReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_ticks_received_total",
		Help: "Total number of clock ticks received from the leader",
	})
	m.malformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_malformed_datagrams_total",
		Help: "Total number of datagrams dropped as malformed or unknown",
	})
	m.cuesFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_cues_fired_total",
		Help: "Total number of cues handed to the trigger output",
	})
	m.correctionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_corrections_total",
		Help: "Total number of playback position corrections issued",
	})
	m.commandsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_commands_sent_total",
		Help: "Total number of control messages sent",
	})
	m.commandsReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitchensync_commands_received_total",
		Help: "Total number of control messages dispatched to a handler",
	})
	m.collaboratorsKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensync_collaborators_known",
		Help: "Number of collaborators in the registry",
	})
	m.collaboratorsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensync_collaborators_online",
		Help: "Number of collaborators seen within the liveness timeout",
	})
	m.averageDriftSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitchensync_average_drift_seconds",
		Help: "Average clock drift over the recent sample window",
	})

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.ticksBroadcastTotal,
		m.ticksReceivedTotal,
		m.malformedTotal,
		m.cuesFiredTotal,
		m.correctionsTotal,
		m.commandsSentTotal,
		m.commandsReceivedTotal,
		m.collaboratorsKnown,
		m.collaboratorsOnline,
		m.averageDriftSeconds,
	)

	return m
}

// IncRequests increments the HTTP request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncTicksBroadcast increments the broadcast tick counter.
func (m *Metrics) IncTicksBroadcast() { m.ticksBroadcastTotal.Inc() }

// IncTicksReceived increments the received tick counter.
func (m *Metrics) IncTicksReceived() { m.ticksReceivedTotal.Inc() }

// IncMalformed increments the dropped-datagram counter.
func (m *Metrics) IncMalformed() { m.malformedTotal.Inc() }

// IncCuesFired increments the fired cue counter.
func (m *Metrics) IncCuesFired() { m.cuesFiredTotal.Inc() }

// IncCorrections increments the correction counter.
func (m *Metrics) IncCorrections() { m.correctionsTotal.Inc() }

// IncCommandsSent increments the sent control message counter.
func (m *Metrics) IncCommandsSent() { m.commandsSentTotal.Inc() }

// IncCommandsReceived increments the dispatched control message counter.
func (m *Metrics) IncCommandsReceived() { m.commandsReceivedTotal.Inc() }

// SetCollaborators sets the registry gauges.
func (m *Metrics) SetCollaborators(known, online int) {
	m.collaboratorsKnown.Set(float64(known))
	m.collaboratorsOnline.Set(float64(online))
}

// SetAverageDrift sets the average drift gauge.
func (m *Metrics) SetAverageDrift(seconds float64) { m.averageDriftSeconds.Set(seconds) }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. collaborator counts, average drift).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
