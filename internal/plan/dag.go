package plan

import (
	"fmt"
	"sort"
)

// DAG is the validated, levelled unit graph. It is read-only after
// construction and safe for concurrent readers.
type DAG struct {
	units      map[string]*Unit
	order      []string // sorted by (wave, id)
	edges      []Edge
	dependents map[string][]string
	waves      []Wave
}

// NewDAG validates units and edges, rejects cycles and assigns waves. Unit
// DependsOn lists are rebuilt from edges.
func NewDAG(units []*Unit, edges []Edge) (*DAG, error) {
	d := &DAG{
		units:      make(map[string]*Unit, len(units)),
		dependents: make(map[string][]string),
	}
	for _, u := range units {
		if _, dup := d.units[u.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate unit id %q", ErrMalformedPlan, u.ID)
		}
		u.DependsOn = nil
		u.Wave = 0
		d.units[u.ID] = u
	}

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if _, ok := d.units[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge from unknown unit %q", ErrMalformedPlan, e.From)
		}
		if _, ok := d.units[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge to unknown unit %q", ErrMalformedPlan, e.To)
		}
		if e.From == e.To {
			return nil, &CycleError{Path: []string{e.From, e.To}}
		}
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		d.edges = append(d.edges, e)
		d.units[e.To].DependsOn = append(d.units[e.To].DependsOn, e.From)
		d.dependents[e.From] = append(d.dependents[e.From], e.To)
	}
	for _, u := range d.units {
		sort.Strings(u.DependsOn)
	}
	for id := range d.dependents {
		sort.Strings(d.dependents[id])
	}

	if path := d.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	d.level()
	return d, nil
}

// findCycle runs a DFS over dependents and returns the first cycle as a
// closed path (first element repeated at the end), or nil.
func (d *DAG) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(d.units))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range d.dependents[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						path := append([]string(nil), stack[i:]...)
						return append(path, next)
					}
				}
			case white:
				if p := visit(next); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range sortedKeys(d.units) {
		if color[id] == white {
			if p := visit(id); p != nil {
				return p
			}
		}
	}
	return nil
}

// level assigns wave = 1 + max(dependency waves), or 1 without dependencies.
func (d *DAG) level() {
	var waveOf func(id string) int
	waveOf = func(id string) int {
		u := d.units[id]
		if u.Wave > 0 {
			return u.Wave
		}
		w := 1
		for _, dep := range u.DependsOn {
			if dw := waveOf(dep) + 1; dw > w {
				w = dw
			}
		}
		u.Wave = w
		return w
	}

	maxWave := 0
	for _, id := range sortedKeys(d.units) {
		if w := waveOf(id); w > maxWave {
			maxWave = w
		}
	}

	d.waves = make([]Wave, maxWave)
	for i := range d.waves {
		d.waves[i].Number = i + 1
	}
	for _, id := range sortedKeys(d.units) {
		w := d.units[id].Wave
		d.waves[w-1].UnitIDs = append(d.waves[w-1].UnitIDs, id)
	}

	d.order = d.order[:0]
	for _, w := range d.waves {
		d.order = append(d.order, w.UnitIDs...)
	}
}

func sortedKeys(m map[string]*Unit) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unit returns the unit with id, or nil.
func (d *DAG) Unit(id string) *Unit {
	return d.units[id]
}

// Units returns all units ordered by wave, then id.
func (d *DAG) Units() []*Unit {
	out := make([]*Unit, len(d.order))
	for i, id := range d.order {
		out[i] = d.units[id]
	}
	return out
}

// Len returns the number of units.
func (d *DAG) Len() int {
	return len(d.units)
}

// Waves returns the waves in execution order.
func (d *DAG) Waves() []Wave {
	return d.waves
}

// Edges returns the deduplicated edge set in insertion order.
func (d *DAG) Edges() []Edge {
	return d.edges
}

// Dependents returns the ids of units that directly depend on id.
func (d *DAG) Dependents(id string) []string {
	return d.dependents[id]
}

// Downstream returns every unit reachable from id through dependents,
// sorted by id.
func (d *DAG) Downstream(id string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), d.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, d.dependents[next]...)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
