package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainstream"

// Resolution outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_decoded_total",
			Help:      "Block frames decoded from byte sources.",
		},
		[]string{"stream"},
	)
	streamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "failures_total",
			Help:      "Terminal stream failures by kind.",
		},
		[]string{"stream", "kind"},
	)
	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Common ancestor resolutions by outcome.",
		},
		[]string{"outcome"},
	)
	resolveRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "rounds",
			Help:      "Merge rounds per resolution.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Resolution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	feedConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connections_total",
			Help:      "Feed client connections by result.",
		},
		[]string{"feed", "success"},
	)
	feedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to feed clients.",
		},
		[]string{"feed"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesDecoded, streamFailures,
			resolutions, resolveRounds, resolveDuration,
			feedConnections, feedBytes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameDecoded(stream string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(stream).Inc()
}

// RecordStreamFailure counts one terminal failure; kind is "malformed", "source" or "canceled".
func RecordStreamFailure(stream, kind string) {
	RegisterMetrics()
	streamFailures.WithLabelValues(stream, kind).Inc()
}

func RecordResolution(outcome string, rounds int, duration time.Duration) {
	RegisterMetrics()
	resolutions.WithLabelValues(outcome).Inc()
	resolveRounds.Observe(float64(rounds))
	resolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordFeedConnection(feed string, bytesSent int64, success bool) {
	RegisterMetrics()
	feedConnections.WithLabelValues(feed, strconv.FormatBool(success)).Inc()
	if bytesSent > 0 {
		feedBytes.WithLabelValues(feed).Add(float64(bytesSent))
	}
}
