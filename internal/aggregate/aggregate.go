// Package aggregate folds per-unit scheduler results into the run
// deliverable.
package aggregate

import (
	"sort"

	"github.com/fyrsmithlabs/cogflow/internal/scheduler"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusFullySucceeded     Status = "fully_succeeded"
	StatusPartiallySucceeded Status = "partially_succeeded"
	StatusAborted            Status = "aborted"
)

// Artifact is the accepted output of a completed unit.
type Artifact struct {
	UnitID   string `json:"unit_id"`
	TaskID   string `json:"task_id"`
	Wave     int    `json:"wave"`
	Code     string `json:"code"`
	Tier     string `json:"tier"`
	Model    string `json:"model,omitempty"`
	Attempts int    `json:"attempts"`
}

// Failure describes a unit that exhausted its attempts.
type Failure struct {
	UnitID       string `json:"unit_id"`
	TaskID       string `json:"task_id"`
	Wave         int    `json:"wave"`
	FailingLayer string `json:"failing_layer"`
	Diagnostic   string `json:"diagnostic,omitempty"`
	Attempts     int    `json:"attempts"`
	Tier         string `json:"tier"`
}

// Skip describes a unit that never ran.
type Skip struct {
	UnitID    string `json:"unit_id"`
	TaskID    string `json:"task_id"`
	Wave      int    `json:"wave"`
	Reason    string `json:"reason"`
	BlockedBy string `json:"blocked_by,omitempty"`
}

// Stats summarizes a run.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Attempts  int `json:"attempts"`

	// Tiers counts executed units by the tier of their final attempt.
	Tiers map[string]int `json:"tiers"`

	// AttemptsByTier counts every attempt by the tier it ran on.
	AttemptsByTier map[string]int `json:"attempts_by_tier"`
}

// Deliverable is the aggregated result of a run.
type Deliverable struct {
	Status    Status     `json:"status"`
	Artifacts []Artifact `json:"artifacts"`
	Failed    []Failure  `json:"failed"`
	Skipped   []Skip     `json:"skipped"`
	Stats     Stats      `json:"stats"`
}

// Aggregate builds the deliverable. Results may arrive in any order; every
// list in the deliverable is ordered by wave then unit id.
func Aggregate(results []scheduler.Result) Deliverable {
	sorted := append([]scheduler.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Wave != sorted[j].Wave {
			return sorted[i].Wave < sorted[j].Wave
		}
		return sorted[i].UnitID < sorted[j].UnitID
	})

	d := Deliverable{
		Artifacts: []Artifact{},
		Failed:    []Failure{},
		Skipped:   []Skip{},
		Stats: Stats{
			Total:          len(sorted),
			Tiers:          map[string]int{},
			AttemptsByTier: map[string]int{},
		},
	}

	for _, r := range sorted {
		if out := r.Outcome; out != nil {
			d.Stats.Attempts += len(out.Attempts)
			for _, a := range out.Attempts {
				d.Stats.AttemptsByTier[a.Tier.String()]++
			}
			if len(out.Attempts) > 0 {
				d.Stats.Tiers[out.Tier.String()]++
			}
		}

		switch r.Status {
		case scheduler.StatusCompleted:
			d.Stats.Completed++
			a := Artifact{UnitID: r.UnitID, TaskID: r.TaskID, Wave: r.Wave}
			if out := r.Outcome; out != nil {
				a.Tier = out.Tier.String()
				a.Attempts = len(out.Attempts)
				if out.Artifact != nil {
					a.Code = out.Artifact.Code
					a.Model = out.Artifact.Model
				}
			}
			d.Artifacts = append(d.Artifacts, a)
		case scheduler.StatusFailed:
			d.Stats.Failed++
			f := Failure{UnitID: r.UnitID, TaskID: r.TaskID, Wave: r.Wave, FailingLayer: r.Reason}
			if out := r.Outcome; out != nil {
				f.Diagnostic = out.Diagnostic
				f.Attempts = len(out.Attempts)
				f.Tier = out.Tier.String()
			}
			d.Failed = append(d.Failed, f)
		case scheduler.StatusSkipped:
			d.Stats.Skipped++
			d.Skipped = append(d.Skipped, Skip{
				UnitID:    r.UnitID,
				TaskID:    r.TaskID,
				Wave:      r.Wave,
				Reason:    r.Reason,
				BlockedBy: r.BlockedBy,
			})
		}
	}

	d.Status = StatusPartiallySucceeded
	if d.Stats.Total > 0 && d.Stats.Completed == d.Stats.Total {
		d.Status = StatusFullySucceeded
	}
	return d
}

// Artifact returns the artifact for unitID.
func (d *Deliverable) Artifact(unitID string) (Artifact, bool) {
	for _, a := range d.Artifacts {
		if a.UnitID == unitID {
			return a, true
		}
	}
	return Artifact{}, false
}

// ByTask groups completed artifacts by task, preserving unit order. Split
// tasks yield their parts in wave order.
func (d *Deliverable) ByTask() map[string][]Artifact {
	out := make(map[string][]Artifact)
	for _, a := range d.Artifacts {
		out[a.TaskID] = append(out[a.TaskID], a)
	}
	return out
}
