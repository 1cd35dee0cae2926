// Package metrics exposes the Prometheus collectors for the HTTP surface and
// the reward engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "habitquest",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitquest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "habitquest",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	habitCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitquest",
			Subsystem: "game",
			Name:      "habit_completions_total",
			Help:      "Total number of habit completion attempts.",
		},
		[]string{"difficulty", "accepted"},
	)

	levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "habitquest",
			Subsystem: "game",
			Name:      "level_ups_total",
			Help:      "Total number of level-ups awarded.",
		},
	)

	xpAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "habitquest",
			Subsystem: "game",
			Name:      "xp_awarded_total",
			Help:      "Total XP awarded across all users.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		habitCompletions,
		levelUps,
		xpAwarded,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCompletion records a habit completion attempt and, when accepted, the
// XP and level-up it produced.
func RecordCompletion(difficulty string, accepted bool, xpGained int, leveledUp bool) {
	result := "false"
	if accepted {
		result = "true"
	}
	if difficulty == "" {
		difficulty = "unknown"
	}
	habitCompletions.WithLabelValues(difficulty, result).Inc()
	if !accepted {
		return
	}
	xpAwarded.Add(float64(xpGained))
	if leveledUp {
		levelUps.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so the path label stays low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" {
		parts = parts[1:]
		if len(parts) == 0 {
			return "/api"
		}
	}
	switch parts[0] {
	case "habits":
		if len(parts) == 1 {
			return "/api/habits"
		}
		if parts[1] == "deleted" || parts[1] == "bulk" {
			return "/api/habits/" + strings.Join(parts[1:], "/")
		}
		if len(parts) == 2 {
			return "/api/habits/:id"
		}
		return "/api/habits/:id/" + parts[2]
	case "auth", "users":
		return "/api/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
