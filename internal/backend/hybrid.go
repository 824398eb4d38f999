package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/logging"
)

// Hybrid drafts on a cheap generator and asks a premium generator to
// refine the draft. When drafting fails the premium generator works from
// the original prompt alone and the draft error is logged.
type Hybrid struct {
	Draft  Generator
	Refine Generator
	Logger *logging.Logger // nil discards draft errors
}

// Generate runs draft then refine.
func (h *Hybrid) Generate(ctx context.Context, req Request) (Artifact, error) {
	refineReq := req
	draft, err := h.Draft.Generate(ctx, req)
	if err == nil && draft.Code != "" {
		refineReq.Prompt = fmt.Sprintf("%s\n\nA draft implementation follows. Fix any defects and return the complete corrected file.\n\n```go\n%s```",
			req.Prompt, draft.Code)
	} else if ctx.Err() != nil {
		return Artifact{}, ctx.Err()
	} else if h.Logger != nil {
		if err == nil {
			err = ErrEmptyCompletion
		}
		h.Logger.Warn(ctx, "hybrid draft failed, refining from prompt",
			zap.String("unit_id", req.UnitID), zap.Error(err))
	}

	art, err := h.Refine.Generate(ctx, refineReq)
	if err != nil {
		return Artifact{}, fmt.Errorf("hybrid refine: %w", err)
	}
	art.InputTokens += draft.InputTokens
	art.OutputTokens += draft.OutputTokens
	return art, nil
}

var _ Generator = (*Hybrid)(nil)
