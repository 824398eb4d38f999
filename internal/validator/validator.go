// Package validator checks generated artifacts with an ordered ensemble of
// layers.
//
// Syntax, contract and test layers are mandatory and always block. Lint and
// security layers are advisory: they run and report, but only block when
// configured to. Every layer runs regardless of earlier failures so a retry
// sees the complete picture.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/validator")

// Layer names.
const (
	LayerSyntax   = "syntax"
	LayerContract = "contract"
	LayerTest     = "test"
	LayerLint     = "lint"
	LayerSecurity = "security"
)

// Layer is one validation check. Check returns nil when the artifact
// passes; the error text becomes the layer's diagnostic.
type Layer interface {
	Name() string
	Mandatory() bool
	Check(ctx context.Context, art backend.Artifact, contract []string) error
}

// LayerResult is the outcome of one layer.
type LayerResult struct {
	Layer      string        `json:"layer"`
	Passed     bool          `json:"passed"`
	Mandatory  bool          `json:"mandatory"`
	Blocking   bool          `json:"blocking"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Report is the ordered set of layer results for one artifact. Passed is
// true iff every blocking layer passed.
type Report struct {
	Passed bool          `json:"passed"`
	Layers []LayerResult `json:"layers"`
}

// Diagnostic joins the diagnostics of failing blocking layers.
func (r Report) Diagnostic() string {
	var parts []string
	for _, l := range r.Layers {
		if l.Blocking && !l.Passed {
			parts = append(parts, fmt.Sprintf("[%s] %s", l.Layer, l.Diagnostic))
		}
	}
	return strings.Join(parts, "\n")
}

// FailingLayer returns the first failing blocking layer, or "".
func (r Report) FailingLayer() string {
	for _, l := range r.Layers {
		if l.Blocking && !l.Passed {
			return l.Layer
		}
	}
	return ""
}

// Advisories returns the diagnostics of failing non-blocking layers.
func (r Report) Advisories() []string {
	var out []string
	for _, l := range r.Layers {
		if !l.Blocking && !l.Passed {
			out = append(out, fmt.Sprintf("[%s] %s", l.Layer, l.Diagnostic))
		}
	}
	return out
}

// Validator runs layers in order.
type Validator struct {
	layers   []Layer
	blocking map[string]bool
	logger   *logging.Logger
}

// Options configures the default ensemble.
type Options struct {
	LintBlocking     bool
	SecurityBlocking bool

	// TestRunner backs the test layer. Nil passes every artifact.
	TestRunner TestRunner

	Logger *logging.Logger
}

// New builds the default five-layer ensemble.
func New(opts Options) *Validator {
	runner := opts.TestRunner
	if runner == nil {
		runner = NoTests{}
	}
	v := NewWithLayers(opts.Logger,
		SyntaxLayer{},
		ContractLayer{},
		TestLayer{Runner: runner},
		LintLayer{},
		NewSecurityLayer(),
	)
	v.SetBlocking(LayerLint, opts.LintBlocking)
	v.SetBlocking(LayerSecurity, opts.SecurityBlocking)
	return v
}

// FromConfig builds the default ensemble from configuration. A configured
// test command becomes a CommandRunner.
func FromConfig(cfg config.ValidatorConfig, logger *logging.Logger) *Validator {
	opts := Options{
		LintBlocking:     cfg.LintBlocking,
		SecurityBlocking: cfg.SecurityBlocking,
		Logger:           logger,
	}
	if len(cfg.TestCommand) > 0 {
		opts.TestRunner = &CommandRunner{Command: cfg.TestCommand, Timeout: cfg.TestTimeout.Duration()}
	}
	return New(opts)
}

// NewWithLayers builds a validator over an explicit layer list. Only
// mandatory layers block until SetBlocking says otherwise.
func NewWithLayers(logger *logging.Logger, layers ...Layer) *Validator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Validator{
		layers:   layers,
		blocking: make(map[string]bool),
		logger:   logger.Named("validator"),
	}
}

// SetBlocking makes an advisory layer blocking or not. Mandatory layers
// always block.
func (v *Validator) SetBlocking(layer string, blocking bool) {
	v.blocking[layer] = blocking
}

// Validate runs every layer and returns the combined report.
func (v *Validator) Validate(ctx context.Context, art backend.Artifact, contract []string) Report {
	ctx, span := tracer.Start(ctx, "Validator.Validate")
	defer span.End()

	report := Report{Passed: true, Layers: make([]LayerResult, 0, len(v.layers))}
	for _, l := range v.layers {
		start := time.Now()
		err := l.Check(ctx, art, contract)
		res := LayerResult{
			Layer:     l.Name(),
			Passed:    err == nil,
			Mandatory: l.Mandatory(),
			Blocking:  l.Mandatory() || v.blocking[l.Name()],
			Duration:  time.Since(start),
		}
		if err != nil {
			res.Diagnostic = err.Error()
			if res.Blocking {
				report.Passed = false
			}
			v.logger.Debug(ctx, "layer failed",
				zap.String("layer", res.Layer),
				zap.Bool("blocking", res.Blocking),
				zap.String("diagnostic", res.Diagnostic))
		}
		layerChecks.WithLabelValues(res.Layer, resultLabel(res.Passed)).Inc()
		report.Layers = append(report.Layers, res)
	}

	span.SetAttributes(
		attribute.Bool("validation.passed", report.Passed),
		attribute.String("validation.failing_layer", report.FailingLayer()),
	)
	return report
}

func resultLabel(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
