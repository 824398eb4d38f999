package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/router"
)

// Temperature is the sampling schedule max(Floor, Start * Decay^(attempt-1)).
type Temperature struct {
	Start float64
	Decay float64
	Floor float64
}

// At returns the temperature for a 1-based attempt.
func (t Temperature) At(attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	return math.Max(t.Floor, t.Start*math.Pow(t.Decay, float64(attempt-1)))
}

// Backoff configures the delay between attempts.
type Backoff struct {
	Initial             time.Duration
	Max                 time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func (b Backoff) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = b.RandomizationFactor
	eb.Reset()
	return eb
}

// tierFor escalates base one level per escalateAfter failures.
func tierFor(base router.Tier, failures, escalateAfter int) router.Tier {
	t := base
	for i := 0; i < failures/escalateAfter; i++ {
		t = router.Escalate(t)
	}
	return t
}

// ConfigFrom maps the engine, backoff and temperature sections.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		EscalateAfter:  cfg.Engine.EscalateAfter,
		AttemptTimeout: cfg.Engine.AttemptTimeout.Duration(),
		Backoff: Backoff{
			Initial:             cfg.Backoff.Initial.Duration(),
			Max:                 cfg.Backoff.Max.Duration(),
			Multiplier:          cfg.Backoff.Multiplier,
			RandomizationFactor: cfg.Backoff.RandomizationFactor,
		},
		Temperature: Temperature{
			Start: cfg.Temperature.Start,
			Decay: cfg.Temperature.Decay,
			Floor: cfg.Temperature.Floor,
		},
	}
}
