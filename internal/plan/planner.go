package plan

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/plan")

// Config tunes task expansion.
type Config struct {
	// MaxUnitSize is the largest output size a single unit may target.
	MaxUnitSize int

	// SplitComplexity adds one extra unit to tasks at or above this
	// complexity, so hard work is cut into smaller pieces.
	SplitComplexity float64

	// PhaseBarrier makes every task depend on all tasks of the previous
	// phase.
	PhaseBarrier bool
}

// Planner expands plans into unit DAGs.
type Planner struct {
	cfg    Config
	logger *zap.Logger
}

// NewPlanner creates a planner. A nil logger discards output.
func NewPlanner(cfg Config, logger *zap.Logger) *Planner {
	if cfg.MaxUnitSize < 1 {
		cfg.MaxUnitSize = 150
	}
	if cfg.SplitComplexity <= 0 {
		cfg.SplitComplexity = 1.1 // never split
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, logger: logger}
}

// Expand validates p, expands its tasks into units, infers implicit edges
// and returns the levelled DAG. Errors wrap ErrMalformedPlan or
// ErrCyclicDependency and are never retryable.
func (pl *Planner) Expand(ctx context.Context, p Plan) (*DAG, error) {
	_, span := tracer.Start(ctx, "plan.Expand")
	defer span.End()

	dag, err := pl.expand(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		pl.logger.Error("planning failed", zap.String("plan", p.Name), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("plan.tasks", len(p.Tasks)),
		attribute.Int("plan.units", dag.Len()),
		attribute.Int("plan.waves", len(dag.Waves())),
		attribute.Int("plan.edges", len(dag.Edges())),
	)
	span.SetStatus(codes.Ok, "")
	pl.logger.Info("plan expanded",
		zap.String("plan", p.Name),
		zap.Int("tasks", len(p.Tasks)),
		zap.Int("units", dag.Len()),
		zap.Int("waves", len(dag.Waves())))
	return dag, nil
}

func (pl *Planner) expand(p Plan) (*DAG, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		units  []*Unit
		edges  []Edge
		first  = make(map[string]string, len(p.Tasks)) // task id -> first unit id
		last   = make(map[string]string, len(p.Tasks))
		unitOf = make(map[string]bool)
	)

	for _, t := range p.Tasks {
		parts := pl.split(t)
		for _, u := range parts {
			if unitOf[u.ID] {
				return nil, fmt.Errorf("%w: unit id %q produced by task %q collides with another unit", ErrMalformedPlan, u.ID, t.ID)
			}
			unitOf[u.ID] = true
		}
		for i := 1; i < len(parts); i++ {
			edges = append(edges, Edge{From: parts[i-1].ID, To: parts[i].ID, Kind: EdgeSequence})
		}
		first[t.ID] = parts[0].ID
		last[t.ID] = parts[len(parts)-1].ID
		units = append(units, parts...)
	}

	for _, t := range p.Tasks {
		deps := append([]string(nil), t.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			edges = append(edges, Edge{From: last[dep], To: first[t.ID], Kind: EdgeDeclared})
		}
	}

	if pl.cfg.PhaseBarrier {
		edges = append(edges, phaseEdges(p.Tasks, first, last)...)
	}

	edges = append(edges, implicitEdges(units)...)

	return NewDAG(units, edges)
}

// split expands one task into ceil(size/MaxUnitSize) units, plus one when the
// task is complex enough, never exceeding one unit per output line.
func (pl *Planner) split(t Task) []*Unit {
	n := (t.Size + pl.cfg.MaxUnitSize - 1) / pl.cfg.MaxUnitSize
	if t.Complexity >= pl.cfg.SplitComplexity {
		n++
	}
	if n > t.Size {
		n = t.Size
	}
	if n < 1 {
		n = 1
	}

	units := make([]*Unit, n)
	base, rem := t.Size/n, t.Size%n
	for i := range units {
		id := t.ID
		if n > 1 {
			id = fmt.Sprintf("%s.%d", t.ID, i+1)
		}
		size := base
		if i < rem {
			size++
		}
		units[i] = &Unit{
			ID:          id,
			TaskID:      t.ID,
			Name:        t.Name,
			Phase:       t.Phase,
			Part:        i + 1,
			Parts:       n,
			Description: t.Description,
			TargetSize:  size,
			TaskSize:    t.Size,
			Complexity:  t.Complexity,
		}
	}

	for i, sig := range t.Contract {
		u := units[i%n]
		u.Contract = append(u.Contract, sig)
	}
	units[0].Inputs = append([]string(nil), t.Inputs...)
	units[n-1].Outputs = append([]string(nil), t.Outputs...)
	return units
}

// implicitEdges links each unit that declares an input to every unit of a
// different task that declares it as an output. Iteration is sorted so the
// same plan always yields the same edges.
func implicitEdges(units []*Unit) []Edge {
	producers := make(map[string][]*Unit)
	for _, u := range units {
		for _, out := range u.Outputs {
			producers[out] = append(producers[out], u)
		}
	}
	for _, ps := range producers {
		sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	}

	consumers := append([]*Unit(nil), units...)
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].ID < consumers[j].ID })

	var edges []Edge
	for _, c := range consumers {
		inputs := append([]string(nil), c.Inputs...)
		sort.Strings(inputs)
		for _, in := range inputs {
			for _, p := range producers[in] {
				if p.TaskID == c.TaskID {
					continue
				}
				edges = append(edges, Edge{From: p.ID, To: c.ID, Kind: EdgeImplicit})
			}
		}
	}
	return edges
}

// phaseEdges makes the first unit of each task depend on the last unit of
// every task in the nearest earlier phase.
func phaseEdges(tasks []Task, first, last map[string]string) []Edge {
	byPhase := make(map[int][]string)
	for _, t := range tasks {
		byPhase[t.Phase] = append(byPhase[t.Phase], t.ID)
	}
	phases := make([]int, 0, len(byPhase))
	for ph := range byPhase {
		phases = append(phases, ph)
		sort.Strings(byPhase[ph])
	}
	sort.Ints(phases)

	var edges []Edge
	for i := 1; i < len(phases); i++ {
		for _, to := range byPhase[phases[i]] {
			for _, from := range byPhase[phases[i-1]] {
				edges = append(edges, Edge{From: last[from], To: first[to], Kind: EdgePhase})
			}
		}
	}
	return edges
}
