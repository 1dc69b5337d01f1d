// Package metrics exposes the ingestion counters scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telemetry"

var (
	ReadingsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_ingested_total",
		Help:      "Readings committed by the ingestion pipeline.",
	})

	IngestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_failures_total",
		Help:      "Ingestion units of work that were rolled back.",
	})

	EntitiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_created_total",
		Help:      "Transmitters, sensor devices and sensors created on first sight.",
	}, []string{"kind"})

	ResolverConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_conflicts_total",
		Help:      "Inserts rejected by a unique key and resolved by re-reading.",
	}, []string{"kind"})

	IntegrityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integrity_errors_total",
		Help:      "Uniqueness conflicts whose conflicting row could not be read back.",
	}, []string{"kind"})
)
