package validator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var layerChecks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cogflow",
		Subsystem: "validator",
		Name:      "layer_checks_total",
		Help:      "Validation layer checks by layer and result",
	},
	[]string{"layer", "result"},
)
