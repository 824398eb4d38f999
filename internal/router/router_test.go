package router

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	r := New(DefaultThresholds())

	tests := []struct {
		name       string
		size       int
		complexity float64
		want       Tier
	}{
		{"small and simple", 20, 0.1, TierCheap},
		{"small but complex", 20, 0.9, TierHybrid},
		{"large but simple", 500, 0.1, TierHybrid},
		{"medium", 100, 0.5, TierHybrid},
		{"large and complex", 500, 0.9, TierPremium},
		{"on low size boundary", 50, 0.1, TierHybrid},
		{"on high size boundary", 200, 0.9, TierHybrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &plan.Unit{ID: "u", TargetSize: tt.size, Complexity: tt.complexity}
			assert.Equal(t, tt.want, r.Route(u))
			assert.NotEmpty(t, r.Decide(u).Reason)
		})
	}
}

func TestRoute_Idempotent(t *testing.T) {
	r := New(DefaultThresholds())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		u := &plan.Unit{ID: "u", TargetSize: rng.Intn(600), Complexity: rng.Float64()}
		first := r.Route(u)
		for j := 0; j < 3; j++ {
			require.Equal(t, first, r.Route(u))
		}
		require.Equal(t, first, New(DefaultThresholds()).Route(u))
	}
}

func TestRoute_CustomThresholds(t *testing.T) {
	r := New(Thresholds{SizeLow: 10, SizeHigh: 20, ComplexityLow: 0.1, ComplexityHigh: 0.2})
	assert.Equal(t, TierPremium, r.Route(&plan.Unit{TargetSize: 30, Complexity: 0.5}))
	assert.Equal(t, TierCheap, r.Route(&plan.Unit{TargetSize: 5, Complexity: 0.05}))
}

func TestRoute_UsesTaskSize(t *testing.T) {
	r := New(DefaultThresholds())
	part := &plan.Unit{ID: "api.3", TargetSize: 120, TaskSize: 900, Complexity: 0.9}
	assert.Equal(t, TierPremium, r.Route(part))
	assert.Contains(t, r.Decide(part).Reason, "900")

	assert.Equal(t, TierHybrid, r.Route(&plan.Unit{TargetSize: 20, TaskSize: 300, Complexity: 0.1}))
}

func TestRoute_DefaultConfigReachesEveryTier(t *testing.T) {
	cfg := config.Default()
	planner := plan.NewPlanner(plan.Config{
		MaxUnitSize:     cfg.Planner.MaxUnitSize,
		SplitComplexity: cfg.Planner.SplitComplexity,
	}, nil)
	r := New(Thresholds{
		SizeLow:        cfg.Router.SizeLow,
		SizeHigh:       cfg.Router.SizeHigh,
		ComplexityLow:  cfg.Router.ComplexityLow,
		ComplexityHigh: cfg.Router.ComplexityHigh,
	})

	dag, err := planner.Expand(context.Background(), plan.Plan{Tasks: []plan.Task{
		{ID: "huge", Name: "huge", Phase: 1, Size: 5000, Complexity: 1.0},
		{ID: "mid", Name: "mid", Phase: 1, Size: 120, Complexity: 0.5},
		{ID: "tiny", Name: "tiny", Phase: 1, Size: 20, Complexity: 0.1},
	}})
	require.NoError(t, err)

	tiers := map[string]map[Tier]int{}
	for _, u := range dag.Units() {
		if tiers[u.TaskID] == nil {
			tiers[u.TaskID] = map[Tier]int{}
		}
		tiers[u.TaskID][r.Route(u)]++
	}
	require.Greater(t, dag.Unit("huge.1").Parts, 1)
	assert.Equal(t, map[Tier]int{TierPremium: dag.Unit("huge.1").Parts}, tiers["huge"])
	assert.Equal(t, map[Tier]int{TierHybrid: 1}, tiers["mid"])
	assert.Equal(t, map[Tier]int{TierCheap: 1}, tiers["tiny"])
}

func TestEscalate(t *testing.T) {
	assert.Equal(t, TierHybrid, Escalate(TierCheap))
	assert.Equal(t, TierPremium, Escalate(TierHybrid))
	assert.Equal(t, TierPremium, Escalate(TierPremium))
}

func TestTier_Text(t *testing.T) {
	for _, tier := range Tiers {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}
	_, err := ParseTier("gold")
	assert.Error(t, err)

	data, err := json.Marshal(map[string]Tier{"tier": TierHybrid})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"hybrid"}`, string(data))
}
