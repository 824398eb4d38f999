package engine

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

// Planning error codes carried in the run report.
const (
	CodeMalformedPlan     = "PLAN-001"
	CodeCyclicDependency  = "PLAN-002"
	codeUnknownPlanFailed = "PLAN-000"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing engine dependency")

// PlanError is a fatal planning failure. No unit runs when it occurs.
type PlanError struct {
	Code string `json:"code"`
	Msg  string `json:"message"`

	// Cycle is the dependency cycle for CodeCyclicDependency.
	Cycle []string `json:"cycle,omitempty"`

	Err error `json:"-"`
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *PlanError) Unwrap() error { return e.Err }

// NewPlanError classifies a planning error by code.
func NewPlanError(err error) *PlanError {
	pe := &PlanError{Code: codeUnknownPlanFailed, Msg: err.Error(), Err: err}
	var cycle *plan.CycleError
	switch {
	case errors.As(err, &cycle):
		pe.Code = CodeCyclicDependency
		pe.Cycle = cycle.Path
	case errors.Is(err, plan.ErrCyclicDependency):
		pe.Code = CodeCyclicDependency
	case errors.Is(err, plan.ErrMalformedPlan):
		pe.Code = CodeMalformedPlan
	}
	return pe
}
