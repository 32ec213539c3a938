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
			Namespace: "earlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "earlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earlink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames exchanged with devices.",
		},
		[]string{"direction", "opcode"},
	)
	framingErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earlink",
			Subsystem: "link",
			Name:      "framing_errors_total",
			Help:      "Malformed frames dropped while resynchronizing.",
		},
	)
	resyncBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earlink",
			Subsystem: "link",
			Name:      "resync_bytes_total",
			Help:      "Stream bytes skipped while searching for a frame preamble.",
		},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earlink",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Device requests by outcome.",
		},
		[]string{"opcode", "outcome"},
	)
	replyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "earlink",
			Subsystem: "engine",
			Name:      "reply_latency_seconds",
			Help:      "Time from request write to matched reply.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"opcode"},
	)
	connectedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "earlink",
			Subsystem: "engine",
			Name:      "connected_devices",
			Help:      "Devices in the Connected state.",
		},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earlink",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Device events published or dropped on full listener buffers.",
		},
		[]string{"kind", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			frames, framingErrors, resyncBytes,
			requests, replyLatency,
			connectedDevices, events,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; direction is "tx" or "rx".
func RecordFrame(direction, opcode string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, opcode).Inc()
}

func RecordFramingError() {
	RegisterMetrics()
	framingErrors.Inc()
}

func RecordResyncBytes(n uint64) {
	RegisterMetrics()
	resyncBytes.Add(float64(n))
}

// RecordRequest counts a finished request. Latency is observed only for
// successful replies.
func RecordRequest(opcode, outcome string, latency time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(opcode, outcome).Inc()
	if outcome == "ok" {
		replyLatency.WithLabelValues(opcode).Observe(latency.Seconds())
	}
}

func DeviceConnected() {
	RegisterMetrics()
	connectedDevices.Inc()
}

func DeviceDisconnected() {
	RegisterMetrics()
	connectedDevices.Dec()
}

func RecordEvent(kind string, delivered bool) {
	RegisterMetrics()
	result := "published"
	if !delivered {
		result = "dropped"
	}
	events.WithLabelValues(kind, result).Inc()
}
