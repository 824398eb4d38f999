package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsultationsTotal counts retry consultations.
// Labels: outcome (found, empty, error)
var ConsultationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cogflow",
		Subsystem: "feedback",
		Name:      "consultations_total",
		Help:      "Total number of pattern store consultations by outcome",
	},
	[]string{"outcome"},
)
