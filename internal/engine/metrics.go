package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cogflow",
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Plan runs by final status",
	},
	[]string{"status"},
)
