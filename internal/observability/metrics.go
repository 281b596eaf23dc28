package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	activationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gazectl",
			Subsystem: "session",
			Name:      "activation_attempts_total",
			Help:      "Tracker server activation attempts.",
		},
		[]string{"outcome"},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gazectl",
			Subsystem: "dispatch",
			Name:      "replies_total",
			Help:      "Replies received from the tracker server.",
		},
		[]string{"category", "request", "status"},
	)
	replyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gazectl",
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "Time from issuing a request to handling its reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category", "request"},
	)
	listenerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gazectl",
			Subsystem: "dispatch",
			Name:      "listener_panics_total",
			Help:      "Listener callbacks that panicked.",
		},
		[]string{"kind"},
	)
	frames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gazectl",
			Subsystem: "dispatch",
			Name:      "frames_total",
			Help:      "Gaze frames received.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gazectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gazectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(activationAttempts, replies, replyLatency, listenerPanics, frames,
			httpRequests, httpDuration)
	})
}

// MetricsHandler serves the default registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordActivationAttempt(success bool) {
	RegisterMetrics()
	outcome := "failure"
	if success {
		outcome = "success"
	}
	activationAttempts.WithLabelValues(outcome).Inc()
}

// RecordReply counts one reply. latency is skipped when zero, which is the
// case for server pushes.
func RecordReply(category, request string, status int, latency time.Duration) {
	RegisterMetrics()
	if category == "" {
		category = "error"
	}
	replies.WithLabelValues(category, request, strconv.Itoa(status)).Inc()
	if latency > 0 {
		replyLatency.WithLabelValues(category, request).Observe(latency.Seconds())
	}
}

func RecordListenerPanic(kind string) {
	RegisterMetrics()
	listenerPanics.WithLabelValues(kind).Inc()
}

func RecordFrame() {
	RegisterMetrics()
	frames.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
