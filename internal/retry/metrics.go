package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cogflow",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Generation attempts by tier and validation result",
		},
		[]string{"tier", "result"},
	)

	attemptsPerUnit = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cogflow",
			Subsystem: "retry",
			Name:      "attempts_per_unit",
			Help:      "Attempts used per unit by terminal state",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"state"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cogflow",
			Subsystem: "retry",
			Name:      "escalations_total",
			Help:      "Tier escalations between attempts",
		},
		[]string{"from", "to"},
	)
)
