package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cogflow",
			Subsystem: "scheduler",
			Name:      "units_total",
			Help:      "Units by terminal status",
		},
		[]string{"status"},
	)

	waveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cogflow",
			Subsystem: "scheduler",
			Name:      "wave_duration_seconds",
			Help:      "Wall time per wave",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	inflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cogflow",
			Subsystem: "scheduler",
			Name:      "units_inflight",
			Help:      "Units currently executing",
		},
	)
)
