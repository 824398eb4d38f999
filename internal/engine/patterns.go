package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/patternstore"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/retry"
)

// maxSummaryCode bounds the artifact text kept in a success pattern.
const maxSummaryCode = 2000

// recordPattern enqueues the pattern for a terminal outcome. Cancelled
// units say nothing about the work and are not recorded. The store embeds
// the signature asynchronously, so recording never waits on the embedder.
func (e *Engine) recordPattern(ctx context.Context, u *plan.Unit, out retry.Outcome) {
	if e.opts.Store == nil || out.FailingLayer == retry.ReasonCancelled {
		return
	}
	e.opts.Store.Store(ctx, e.scrub(ctx, patternFor(u, out)))
}

func patternFor(u *plan.Unit, out retry.Outcome) patternstore.Pattern {
	p := patternstore.Pattern{
		Signature: u.Signature(),
		UnitID:    u.ID,
		TaskID:    u.TaskID,
		Tier:      out.Tier.String(),
	}
	for _, dep := range u.DependsOn {
		p.Relations = append(p.Relations, patternstore.Link{Relation: patternstore.RelDependsOn, Target: dep})
	}

	if out.State == retry.StateCompleted {
		p.Kind = patternstore.KindSuccess
		p.Summary = fmt.Sprintf("validated on attempt %d at the %s tier", len(out.Attempts), out.Tier)
		if out.Artifact != nil {
			p.Summary += "\n" + truncate(out.Artifact.Code, maxSummaryCode)
		}
		return p
	}
	p.Kind = patternstore.KindError
	p.Summary = fmt.Sprintf("failed %s validation after %d attempts", out.FailingLayer, len(out.Attempts))
	p.Diagnostic = out.Diagnostic
	return p
}

// scrub redacts credentials from the stored text of p.
func (e *Engine) scrub(ctx context.Context, p patternstore.Pattern) patternstore.Pattern {
	if e.opts.Redactor == nil {
		return p
	}
	summary, sf := e.opts.Redactor.Redact(p.Summary)
	diag, df := e.opts.Redactor.Redact(p.Diagnostic)
	if n := len(sf) + len(df); n > 0 {
		e.logger.Warn(ctx, "redacted credentials from pattern",
			zap.String("unit_id", p.UnitID), zap.Int("findings", n))
	}
	p.Summary, p.Diagnostic = summary, diag
	return p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
