package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clamctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clamctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	scanVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clamctl",
			Subsystem: "scan",
			Name:      "verdicts_total",
			Help:      "Scan verdicts by source and outcome.",
		},
		[]string{"source", "verdict"},
	)
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clamctl",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Daemon scan duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	scanBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clamctl",
			Subsystem: "scan",
			Name:      "bytes_total",
			Help:      "Bytes streamed to the daemon for scanning.",
		},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clamctl",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Verdict cache lookups by result.",
		},
		[]string{"result"},
	)
	verdictEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clamctl",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Verdict events published to the message bus.",
		},
		[]string{"status", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, scanVerdicts, scanDuration, scanBytes, cacheLookups, verdictEvents)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordScan(source, verdict string, size int64, duration time.Duration) {
	RegisterMetrics()
	scanVerdicts.WithLabelValues(source, verdict).Inc()
	scanDuration.WithLabelValues(source).Observe(duration.Seconds())
	if size > 0 {
		scanBytes.Add(float64(size))
	}
}

func RecordCacheLookup(hit bool) {
	RegisterMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func RecordVerdictEvent(status string, success bool) {
	RegisterMetrics()
	verdictEvents.WithLabelValues(status, strconv.FormatBool(success)).Inc()
}
