package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupwire",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests written to the server.",
		},
		[]string{"verb"},
	)
	responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupwire",
			Subsystem: "session",
			Name:      "responses_total",
			Help:      "Responses matched to pending requests.",
		},
		[]string{"verb", "result"},
	)
	responseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groupwire",
			Subsystem: "session",
			Name:      "response_latency_seconds",
			Help:      "Time from request write to response handling.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"verb"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupwire",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Unsolicited events received.",
		},
		[]string{"type"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupwire",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Session teardowns by reason.",
		},
		[]string{"reason"},
	)
)

// Collectors returns every collector so callers can register them on a
// private registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{requests, responses, responseLatency, events, disconnects}
}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

func RecordRequest(verb string) {
	RegisterMetrics()
	requests.WithLabelValues(verb).Inc()
}

func RecordResponse(verb string, result uint32, sentAt time.Time) {
	RegisterMetrics()
	responses.WithLabelValues(verb, strconv.FormatUint(uint64(result), 16)).Inc()
	if !sentAt.IsZero() {
		responseLatency.WithLabelValues(verb).Observe(time.Since(sentAt).Seconds())
	}
}

func RecordEvent(eventType string) {
	RegisterMetrics()
	events.WithLabelValues(eventType).Inc()
}

func RecordDisconnect(reason string) {
	RegisterMetrics()
	disconnects.WithLabelValues(reason).Inc()
}
