// Package plan expands a hierarchical task plan into a DAG of atomic units
// and levels it into execution waves.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedPlan is returned for structurally invalid plans.
	ErrMalformedPlan = errors.New("malformed plan")

	// ErrCyclicDependency is wrapped by CycleError.
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// CycleError reports the dependency cycle found during planning.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// Plan is an ordered list of tasks.
type Plan struct {
	Name  string `yaml:"name" json:"name"`
	Tasks []Task `yaml:"tasks" json:"tasks"`
}

// Task is a unit of planned work. Tasks are never modified after expansion.
type Task struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Phase       int      `yaml:"phase" json:"phase"`
	Size        int      `yaml:"size" json:"size"`             // estimated lines of output
	Complexity  float64  `yaml:"complexity" json:"complexity"` // 0 to 1
	DependsOn   []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Inputs      []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs     []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Contract    []string `yaml:"contract,omitempty" json:"contract,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks a plan for structural errors before expansion.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: plan must have at least one task", ErrMalformedPlan)
	}

	ids := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: task at index %d has no id", ErrMalformedPlan, i)
		}
		if ids[t.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrMalformedPlan, t.ID)
		}
		ids[t.ID] = true

		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: task %q has no name", ErrMalformedPlan, t.ID)
		}
		if t.Phase < 1 {
			return fmt.Errorf("%w: task %q phase must be >= 1, got %d", ErrMalformedPlan, t.ID, t.Phase)
		}
		if t.Size <= 0 {
			return fmt.Errorf("%w: task %q size must be positive, got %d", ErrMalformedPlan, t.ID, t.Size)
		}
		if t.Complexity < 0 || t.Complexity > 1 {
			return fmt.Errorf("%w: task %q complexity must be in [0,1], got %v", ErrMalformedPlan, t.ID, t.Complexity)
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return fmt.Errorf("%w: task %q depends on itself", ErrMalformedPlan, t.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrMalformedPlan, t.ID, dep)
			}
		}
	}
	return nil
}

// Unit is the smallest schedulable piece of a task.
type Unit struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	Name        string   `json:"name"`
	Phase       int      `json:"phase"`
	Part        int      `json:"part"`  // 1-based
	Parts       int      `json:"parts"` // number of units the task expanded into
	Description string   `json:"description,omitempty"`
	Contract    []string `json:"contract,omitempty"`
	Inputs      []string `json:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
	TargetSize  int      `json:"target_size"`
	TaskSize    int      `json:"task_size"` // estimated size of the whole task
	Complexity  float64  `json:"complexity"`
	DependsOn   []string `json:"depends_on,omitempty"` // sorted unit ids
	Wave        int      `json:"wave"`
}

// Signature is a stable text description of the unit, used as the key for
// embedding lookups. Units with the same name, contract and I/O types have
// the same signature regardless of id.
func (u *Unit) Signature() string {
	var b strings.Builder
	b.WriteString(u.Name)
	if u.Parts > 1 {
		fmt.Fprintf(&b, " (part %d of %d)", u.Part, u.Parts)
	}
	if u.Description != "" {
		b.WriteString(": ")
		b.WriteString(u.Description)
	}
	writeList(&b, "contract", u.Contract)
	writeList(&b, "inputs", u.Inputs)
	writeList(&b, "outputs", u.Outputs)
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	fmt.Fprintf(b, "\n%s: %s", label, strings.Join(sorted, "; "))
}

// EdgeKind says why an edge exists.
type EdgeKind string

const (
	EdgeDeclared EdgeKind = "declared" // copied from Task.DependsOn
	EdgeImplicit EdgeKind = "implicit" // output consumed as input
	EdgeSequence EdgeKind = "sequence" // consecutive parts of one task
	EdgePhase    EdgeKind = "phase"    // phase barrier
)

// Edge means To depends on From.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Wave is a batch of mutually independent units.
type Wave struct {
	Number  int      `json:"number"`
	UnitIDs []string `json:"unit_ids"`
}
