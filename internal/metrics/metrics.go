package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	reqInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "In-flight HTTP requests",
		},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	wsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Client events processed, by event name and result",
		},
		[]string{"event", "result"},
	)

	activeTrips = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_trips",
			Help: "Trips with at least one active location sharer",
		},
	)

	activeSharers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_sharers",
			Help: "Presence entries across all trips",
		},
	)
)

func init() {
	Registry.MustRegister(reqTotal, reqInFlight, reqDuration, wsConnections, wsEvents, activeTrips, activeSharers)
}

// ConnectionOpened increments the open websocket connection gauge
func ConnectionOpened() { wsConnections.Inc() }

// ConnectionClosed decrements the open websocket connection gauge
func ConnectionClosed() { wsConnections.Dec() }

// EventProcessed counts one client event with its result ("ok" or "error")
func EventProcessed(event, result string) {
	wsEvents.WithLabelValues(event, result).Inc()
}

// SetPresenceCounts updates the registry occupancy gauges
func SetPresenceCounts(trips, sharers int) {
	activeTrips.Set(float64(trips))
	activeSharers.Set(float64(sharers))
}

// Middleware instruments HTTP requests
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqInFlight.Inc()
		defer reqInFlight.Dec()

		// Capture status code
		rw := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		dur := time.Since(start).Seconds()
		reqDuration.WithLabelValues(r.Method, route).Observe(dur)
		reqTotal.WithLabelValues(r.Method, route, http.StatusText(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Handler returns a promhttp handler for the Registry
func Handler() http.Handler { return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}) }
