package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cogflow/internal/engine"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan <plan.yaml>",
	Short: "Show the waves and edges of a plan without executing it",
	Long: `Expand a plan into atomic units and print the execution waves and
dependency edges. Nothing is generated.

Examples:
  cogflow plan plan.yaml
  cogflow plan --json plan.yaml | jq '.waves'`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

// planView is the JSON form of an expanded plan.
type planView struct {
	Name  string       `json:"name"`
	Units []*plan.Unit `json:"units"`
	Waves []plan.Wave  `json:"waves"`
	Edges []plan.Edge  `json:"edges"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := plan.LoadFile(args[0])
	if err != nil {
		return &exitError{code: exitAborted, msg: fmt.Sprintf("%s: %v", engine.CodeMalformedPlan, err)}
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	planner := plan.NewPlanner(plan.Config{
		MaxUnitSize:     a.cfg.Planner.MaxUnitSize,
		SplitComplexity: a.cfg.Planner.SplitComplexity,
		PhaseBarrier:    a.cfg.Planner.PhaseBarrier,
	}, a.logger.Underlying())
	dag, err := planner.Expand(cmd.Context(), p)
	if err != nil {
		pe := engine.NewPlanError(err)
		return &exitError{code: exitAborted, msg: pe.Error()}
	}
	return writePlan(cmd.OutOrStdout(), p.Name, dag, jsonOutput)
}

func writePlan(w io.Writer, name string, dag *plan.DAG, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(planView{Name: name, Units: dag.Units(), Waves: dag.Waves(), Edges: dag.Edges()})
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("plan %s: %d units in %d waves", name, dag.Len(), len(dag.Waves()))))
	for _, wave := range dag.Waves() {
		fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("wave %d", wave.Number)))
		for _, id := range wave.UnitIDs {
			u := dag.Unit(id)
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(id), dimStyle.Render(fmt.Sprintf("size=%d complexity=%.2f", u.TargetSize, u.Complexity)))
		}
	}
	if edges := dag.Edges(); len(edges) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("edges"))
		for _, e := range edges {
			fmt.Fprintf(w, "  %s -> %s %s\n", e.From, e.To, dimStyle.Render("("+string(e.Kind)+")"))
		}
	}
	return nil
}
