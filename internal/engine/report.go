package engine

import (
	"time"

	"github.com/fyrsmithlabs/cogflow/internal/aggregate"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/scheduler"
)

// UnitReport is one unit's terminal outcome.
type UnitReport struct {
	UnitID       string           `json:"unit_id"`
	TaskID       string           `json:"task_id"`
	Wave         int              `json:"wave"`
	Status       scheduler.Status `json:"status"`
	FailingLayer string           `json:"failing_layer,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	BlockedBy    string           `json:"blocked_by,omitempty"`
	Attempts     int              `json:"attempts"`
	Tier         string           `json:"tier,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

// Report is the result of one run.
type Report struct {
	RunID     string           `json:"run_id"`
	Plan      string           `json:"plan"`
	Status    aggregate.Status `json:"status"`
	Cancelled bool             `json:"cancelled,omitempty"`

	// Error is set for aborted runs.
	Error *PlanError `json:"error,omitempty"`

	Waves       []plan.Wave           `json:"waves,omitempty"`
	Units       []UnitReport          `json:"units"`
	Deliverable aggregate.Deliverable `json:"deliverable"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Unit returns the report for unitID.
func (r *Report) Unit(unitID string) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.UnitID == unitID {
			return u, true
		}
	}
	return UnitReport{}, false
}

func (r *Report) fill(results []scheduler.Result) {
	r.Deliverable = aggregate.Aggregate(results)
	r.Status = r.Deliverable.Status
	r.Units = make([]UnitReport, 0, len(results))
	for _, res := range results {
		u := UnitReport{
			UnitID:    res.UnitID,
			TaskID:    res.TaskID,
			Wave:      res.Wave,
			Status:    res.Status,
			BlockedBy: res.BlockedBy,
		}
		if out := res.Outcome; out != nil {
			u.FailingLayer = out.FailingLayer
			u.Attempts = len(out.Attempts)
			u.Tier = out.Tier.String()
			u.Duration = out.Duration
		} else {
			u.Reason = res.Reason
		}
		r.Units = append(r.Units, u)
	}
}
