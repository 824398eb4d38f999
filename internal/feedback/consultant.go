// Package feedback assembles retry augmentations from the pattern store.
//
// A Consultant is asked once per retry attempt. It embeds the unit's
// signature, looks up similar failures and successes, walks the relation
// graph for patterns similarity alone would miss, and returns an
// Augmentation. Lookups are best effort: errors are logged and produce an
// empty augmentation rather than failing the attempt.
package feedback

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/embeddings"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/patternstore"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/feedback")

// Outcome labels for the consultations metric.
const (
	OutcomeFound = "found"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// PatternReader is the read side of the pattern store.
type PatternReader interface {
	SearchSimilar(ctx context.Context, vec []float32, kind patternstore.Kind, topK int) ([]patternstore.Match, error)
	TraverseRelated(ctx context.Context, unitID string, relations []patternstore.Relation) ([]patternstore.Pattern, error)
	Expand(ctx context.Context, patternIDs []string, relations []patternstore.Relation) ([]patternstore.Pattern, error)
}

// Config tunes lookups.
type Config struct {
	// TopK bounds each of the failure and success lists. Default 5.
	TopK int

	// MinConfidence drops patterns scored below it. Default 0.
	MinConfidence float64

	// MinSimilarity drops vector matches scored below it. Default 0.
	MinSimilarity float32
}

// Consultant produces augmentations for retry attempts.
type Consultant struct {
	store    PatternReader
	embedder embeddings.Embedder
	cfg      Config
	logger   *logging.Logger
}

// New creates a Consultant. A nil logger discards output.
func New(store PatternReader, embedder embeddings.Embedder, cfg Config, logger *logging.Logger) *Consultant {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Consultant{store: store, embedder: embedder, cfg: cfg, logger: logger.Named("feedback")}
}

// Consult returns nil for the first attempt. For later attempts it always
// returns a non-nil Augmentation, empty when nothing relevant was found or
// when the lookup failed.
func (c *Consultant) Consult(ctx context.Context, unit *plan.Unit, attempt int, lastDiagnostic string) *Augmentation {
	if attempt <= 1 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Consultant.Consult")
	defer span.End()
	span.SetAttributes(attribute.String("unit.id", unit.ID), attribute.Int("attempt", attempt))

	aug := &Augmentation{UnitID: unit.ID, Attempt: attempt, LastDiagnostic: lastDiagnostic}

	if err := c.lookup(ctx, unit, aug); err != nil {
		span.RecordError(err)
		c.logger.Warn(ctx, "pattern lookup failed, continuing without feedback",
			zap.String("unit_id", unit.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		aug.Failures, aug.Successes = nil, nil
		aug.Degraded = true
		ConsultationsTotal.WithLabelValues(OutcomeError).Inc()
		return aug
	}

	outcome := OutcomeFound
	if aug.Empty() {
		outcome = OutcomeEmpty
	}
	ConsultationsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("failures", len(aug.Failures)),
		attribute.Int("successes", len(aug.Successes)),
	)
	c.logger.Debug(ctx, "consulted pattern store",
		zap.String("unit_id", unit.ID),
		zap.String("outcome", outcome),
		zap.Int("failures", len(aug.Failures)),
		zap.Int("successes", len(aug.Successes)),
	)
	return aug
}

func (c *Consultant) lookup(ctx context.Context, unit *plan.Unit, aug *Augmentation) error {
	vec, err := c.embedder.EmbedQuery(ctx, unit.Signature())
	if err != nil {
		return err
	}

	collect := newCollector(c.cfg)

	errMatches, err := c.store.SearchSimilar(ctx, vec, patternstore.KindError, c.cfg.TopK)
	if err != nil {
		return err
	}
	okMatches, err := c.store.SearchSimilar(ctx, vec, patternstore.KindSuccess, c.cfg.TopK)
	if err != nil {
		return err
	}
	for _, m := range errMatches {
		collect.match(m)
	}
	for _, m := range okMatches {
		collect.match(m)
	}

	// the graph only adds to what similarity found; its failures are not fatal
	related, err := c.store.TraverseRelated(ctx, unit.ID, patternstore.AllRelations)
	if err != nil {
		c.logger.Warn(ctx, "graph traversal failed", zap.String("unit_id", unit.ID), zap.Error(err))
	}
	for _, p := range related {
		collect.pattern(p, SourceGraph)
	}

	if ids := collect.errorIDs(); len(ids) > 0 {
		solved, err := c.store.Expand(ctx, ids, []patternstore.Relation{patternstore.RelSolvedBy, patternstore.RelSimilarTo})
		if err != nil {
			c.logger.Warn(ctx, "graph expansion failed", zap.String("unit_id", unit.ID), zap.Error(err))
		}
		for _, p := range solved {
			collect.pattern(p, SourceGraph)
		}
	}

	aug.Failures, aug.Successes = collect.result()
	return nil
}

// collector dedupes patterns by id and enforces limits.
type collector struct {
	cfg       Config
	seen      map[string]bool
	failures  []Entry
	successes []Entry
}

func newCollector(cfg Config) *collector {
	return &collector{cfg: cfg, seen: make(map[string]bool)}
}

func (c *collector) match(m patternstore.Match) {
	if m.Score < c.cfg.MinSimilarity {
		return
	}
	c.add(m.Pattern, m.Score, SourceSimilarity)
}

func (c *collector) pattern(p patternstore.Pattern, source Source) {
	c.add(p, 0, source)
}

func (c *collector) add(p patternstore.Pattern, score float32, source Source) {
	if c.seen[p.ID] || p.Confidence < c.cfg.MinConfidence {
		return
	}
	c.seen[p.ID] = true
	e := Entry{
		PatternID:  p.ID,
		UnitID:     p.UnitID,
		Signature:  p.Signature,
		Summary:    strings.TrimSpace(p.Summary),
		Diagnostic: strings.TrimSpace(p.Diagnostic),
		Tier:       p.Tier,
		Confidence: p.Confidence,
		Score:      score,
		Source:     source,
	}
	switch p.Kind {
	case patternstore.KindError:
		if len(c.failures) < c.cfg.TopK {
			c.failures = append(c.failures, e)
		}
	case patternstore.KindSuccess:
		if len(c.successes) < c.cfg.TopK {
			c.successes = append(c.successes, e)
		}
	}
}

func (c *collector) errorIDs() []string {
	ids := make([]string, len(c.failures))
	for i, f := range c.failures {
		ids[i] = f.PatternID
	}
	return ids
}

func (c *collector) result() ([]Entry, []Entry) {
	return c.failures, c.successes
}
