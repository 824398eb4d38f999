// Package router classifies atomic units into backend tiers by estimated
// size and complexity.
package router

import (
	"fmt"

	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

// Tier is a cost/capability class of generation backend.
type Tier int

const (
	// TierCheap is the fast, low-cost tier.
	TierCheap Tier = iota
	// TierHybrid drafts on the cheap tier and refines on the premium tier.
	TierHybrid
	// TierPremium is the high-capability tier.
	TierPremium
)

// Tiers lists every tier from cheapest to most capable.
var Tiers = []Tier{TierCheap, TierHybrid, TierPremium}

func (t Tier) String() string {
	switch t {
	case TierCheap:
		return "cheap"
	case TierHybrid:
		return "hybrid"
	case TierPremium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	tier, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Escalate returns the next tier up, saturating at TierPremium.
func Escalate(t Tier) Tier {
	if t >= TierPremium {
		return TierPremium
	}
	return t + 1
}

// Thresholds are the classification boundaries. A unit is cheap when it is
// below both low thresholds and premium when it is above both high ones.
type Thresholds struct {
	SizeLow        int
	SizeHigh       int
	ComplexityLow  float64
	ComplexityHigh float64
}

// DefaultThresholds returns the default boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{SizeLow: 50, SizeHigh: 200, ComplexityLow: 0.3, ComplexityHigh: 0.7}
}

// Decision is a routing result with its rationale.
type Decision struct {
	Tier   Tier
	Reason string
}

// Router selects a tier per unit. It holds no mutable state, so the same
// unit always routes to the same tier.
type Router struct {
	th Thresholds
}

// New creates a router.
func New(th Thresholds) *Router {
	return &Router{th: th}
}

// Route returns the tier for u.
func (r *Router) Route(u *plan.Unit) Tier {
	return r.Decide(u).Tier
}

// Decide returns the tier for u together with the reason. Size is the
// estimate of the unit's task, so every part of a split task routes alike
// and a large task can reach the premium tier however finely it is split.
func (r *Router) Decide(u *plan.Unit) Decision {
	size, cx := max(u.TargetSize, u.TaskSize), u.Complexity
	switch {
	case size < r.th.SizeLow && cx < r.th.ComplexityLow:
		return Decision{
			Tier:   TierCheap,
			Reason: fmt.Sprintf("size %d < %d and complexity %.2f < %.2f", size, r.th.SizeLow, cx, r.th.ComplexityLow),
		}
	case size > r.th.SizeHigh && cx > r.th.ComplexityHigh:
		return Decision{
			Tier:   TierPremium,
			Reason: fmt.Sprintf("size %d > %d and complexity %.2f > %.2f", size, r.th.SizeHigh, cx, r.th.ComplexityHigh),
		}
	default:
		return Decision{
			Tier:   TierHybrid,
			Reason: fmt.Sprintf("size %d and complexity %.2f fall between thresholds", size, cx),
		}
	}
}
