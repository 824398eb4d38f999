package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/cogflow/internal/aggregate"
	"github.com/fyrsmithlabs/cogflow/internal/engine"
	"github.com/fyrsmithlabs/cogflow/internal/router"
	"github.com/fyrsmithlabs/cogflow/internal/scheduler"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func statusBadge(s aggregate.Status) string {
	switch s {
	case aggregate.StatusFullySucceeded:
		return okStyle.Render("✓ " + string(s))
	case aggregate.StatusPartiallySucceeded:
		return warnStyle.Render("⚠ " + string(s))
	default:
		return errStyle.Render("✗ " + string(s))
	}
}

func unitBadge(s scheduler.Status) string {
	switch s {
	case scheduler.StatusCompleted:
		return okStyle.Render("[✓]")
	case scheduler.StatusSkipped:
		return warnStyle.Render("[-]")
	default:
		return errStyle.Render("[✗]")
	}
}

// writeReport prints rep as indented JSON or as a styled summary.
func writeReport(w io.Writer, rep *engine.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	name := rep.Plan
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintln(w, headerStyle.Render("cogflow run "+rep.RunID))
	fmt.Fprintf(w, "%s %s  %s %s\n", labelStyle.Render("plan"), name, labelStyle.Render("status"), statusBadge(rep.Status))

	if rep.Error != nil {
		fmt.Fprintf(w, "%s %s\n", errStyle.Render(rep.Error.Code), rep.Error.Msg)
		if len(rep.Error.Cycle) > 0 {
			fmt.Fprintf(w, "  cycle: %s\n", strings.Join(rep.Error.Cycle, " -> "))
		}
		return nil
	}

	fmt.Fprintln(w, sectionStyle.Render("units"))
	for _, u := range rep.Units {
		detail := fmt.Sprintf("wave %d", u.Wave)
		switch u.Status {
		case scheduler.StatusCompleted:
			detail += fmt.Sprintf(", %d attempt(s), %s tier", u.Attempts, u.Tier)
		case scheduler.StatusFailed:
			detail += fmt.Sprintf(", failed %s after %d attempt(s), %s tier", u.FailingLayer, u.Attempts, u.Tier)
		case scheduler.StatusSkipped:
			detail += ", " + u.Reason
			if u.BlockedBy != "" {
				detail += " (" + u.BlockedBy + ")"
			}
		}
		fmt.Fprintf(w, "  %s %s %s\n", unitBadge(u.Status), u.UnitID, dimStyle.Render(detail))
	}

	for _, f := range rep.Deliverable.Failed {
		if f.Diagnostic == "" {
			continue
		}
		fmt.Fprintln(w, sectionStyle.Render("diagnostic: "+f.UnitID))
		for _, line := range strings.Split(strings.TrimRight(f.Diagnostic, "\n"), "\n") {
			fmt.Fprintln(w, "  "+line)
		}
	}

	st := rep.Deliverable.Stats
	fmt.Fprintln(w, sectionStyle.Render("summary"))
	fmt.Fprintf(w, "  %d total, %d completed, %d failed, %d skipped, %d attempts in %s\n",
		st.Total, st.Completed, st.Failed, st.Skipped, st.Attempts, rep.Duration.Round(time.Millisecond))
	if len(st.Tiers) > 0 {
		var parts []string
		for _, t := range router.Tiers {
			tier := t.String()
			if n := st.Tiers[tier]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", tier, n))
			}
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("tiers"), strings.Join(parts, " "))
	}
	return nil
}
