package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrortap",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Number of batch requests handled by the collector.",
		}, []string{"result"},
	)
	ingestEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirrortap",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Number of event records stored.",
		},
	)
	ingestSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirrortap",
			Subsystem: "ingest",
			Name:      "skipped_elements_total",
			Help:      "Number of malformed batch elements skipped.",
		},
	)
	storeSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirrortap",
			Subsystem: "store",
			Name:      "size",
			Help:      "Current number of records held by the event store.",
		},
	)
	mirrorForwards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirrortap",
			Subsystem: "mirror",
			Name:      "forwards_total",
			Help:      "Number of request bodies forwarded to the collector.",
		},
	)
	mirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrortap",
			Subsystem: "mirror",
			Name:      "failures_total",
			Help:      "Number of mirror forwards that failed or were dropped.",
		}, []string{"reason"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{ingestBatches, ingestEvents, ingestSkipped, storeSize, mirrorForwards, mirrorFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncBatch(result string) {
	if regOK.Load() {
		ingestBatches.WithLabelValues(result).Inc()
	}
}

func AddEvents(n int) {
	if regOK.Load() {
		ingestEvents.Add(float64(n))
	}
}

func IncSkipped() {
	if regOK.Load() {
		ingestSkipped.Inc()
	}
}

func SetStoreSize(n int) {
	if regOK.Load() {
		storeSize.Set(float64(n))
	}
}

func IncMirrorForward() {
	if regOK.Load() {
		mirrorForwards.Inc()
	}
}

func IncMirrorFailure(reason string) {
	if regOK.Load() {
		mirrorFailures.WithLabelValues(reason).Inc()
	}
}
