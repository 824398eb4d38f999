package patternstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts asynchronous pattern writes.
	// Labels: kind (success, error), result (ok, failed, dropped)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cogflow",
			Subsystem: "patternstore",
			Name:      "writes_total",
			Help:      "Total number of pattern writes by kind and result",
		},
		[]string{"kind", "result"},
	)

	// WriteDuration tracks time spent writing one pattern to both indexes.
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cogflow",
			Subsystem: "patternstore",
			Name:      "write_duration_seconds",
			Help:      "Duration of pattern writes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueDepth is the number of patterns waiting to be written.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cogflow",
			Subsystem: "patternstore",
			Name:      "queue_depth",
			Help:      "Number of queued pattern writes",
		},
	)

	// PrunedTotal counts patterns removed by Prune.
	PrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cogflow",
			Subsystem: "patternstore",
			Name:      "pruned_total",
			Help:      "Total number of patterns pruned below the confidence floor",
		},
	)
)
