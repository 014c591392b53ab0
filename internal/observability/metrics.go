// Package observability holds the Prometheus collectors shared across the service.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes used as label values.
const (
	OutcomeSuccess    = "success"
	OutcomeNotFound   = "not_found"
	OutcomeInvalid    = "invalid"
	OutcomePersistErr = "persistence_error"
	OutcomeError      = "error"
)

var (
	storeOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarttracker",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Store operations grouped by operation and outcome.",
	}, []string{"operation", "outcome"})

	collectionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smarttracker",
		Subsystem: "store",
		Name:      "activities",
		Help:      "Number of activities in the most recently persisted document.",
	})

	lastPersistedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smarttracker",
		Subsystem: "store",
		Name:      "last_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful document save.",
	})

	saveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smarttracker",
		Subsystem: "store",
		Name:      "save_duration_seconds",
		Help:      "Time spent writing the activity document.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	loadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smarttracker",
		Subsystem: "store",
		Name:      "load_failures_total",
		Help:      "Reads of the activity document that failed and fell back to an empty collection.",
	})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarttracker",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Change events handed to the broker, grouped by event type and outcome.",
	}, []string{"event_type", "outcome"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarttracker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests grouped by method and status code.",
	}, []string{"method", "status"})
)

func init() {
	prometheus.MustRegister(storeOperations, collectionSize, lastPersistedGauge, saveDuration, loadFailures, eventsPublished, httpRequests)
}

// RecordOperation counts a finished store operation.
func RecordOperation(operation, outcome string) {
	storeOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordPersisted updates the size gauge and save watermark after a successful write.
func RecordPersisted(size int, ts time.Time, took time.Duration) {
	collectionSize.Set(float64(size))
	saveDuration.Observe(took.Seconds())
	if ts.IsZero() {
		return
	}
	lastPersistedGauge.Set(float64(ts.Unix()))
}

// RecordLoadFailure counts a fail-soft read.
func RecordLoadFailure() {
	loadFailures.Inc()
}

// RecordEventPublished counts a publish attempt.
func RecordEventPublished(eventType string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// OperationCount returns the counter for an operation and outcome pair.
func OperationCount(operation, outcome string) prometheus.Counter {
	return storeOperations.WithLabelValues(operation, outcome)
}

// LoadFailures returns the fail-soft read counter.
func LoadFailures() prometheus.Counter {
	return loadFailures
}

// EventsPublished returns the publish counter for an event type and outcome.
func EventsPublished(eventType, outcome string) prometheus.Counter {
	return eventsPublished.WithLabelValues(eventType, outcome)
}

// HTTPRequests returns the request counter for a method and status code.
func HTTPRequests(method string, status int) prometheus.Counter {
	return httpRequests.WithLabelValues(method, strconv.Itoa(status))
}
