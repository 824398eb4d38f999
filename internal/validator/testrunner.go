package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
)

// TestRunner executes tests against an artifact. A nil error means the
// tests passed; the error text is the diagnostic otherwise.
type TestRunner interface {
	Run(ctx context.Context, art backend.Artifact, contract []string) error
}

// TestRunnerFunc adapts a function to TestRunner.
type TestRunnerFunc func(ctx context.Context, art backend.Artifact, contract []string) error

func (f TestRunnerFunc) Run(ctx context.Context, art backend.Artifact, contract []string) error {
	return f(ctx, art, contract)
}

// NoTests passes every artifact.
type NoTests struct{}

func (NoTests) Run(context.Context, backend.Artifact, []string) error { return nil }

// TestLayer is the mandatory test layer.
type TestLayer struct {
	Runner TestRunner
}

func (TestLayer) Name() string    { return LayerTest }
func (TestLayer) Mandatory() bool { return true }

func (l TestLayer) Check(ctx context.Context, art backend.Artifact, contract []string) error {
	if l.Runner == nil {
		return nil
	}
	return l.Runner.Run(ctx, art, contract)
}

const maxTestOutput = 4 << 10

// CommandRunner writes the artifact into a scratch module and runs a
// command there. The literal argument "{file}" is replaced by the source
// file's path.
type CommandRunner struct {
	Command []string
	Timeout time.Duration

	// Dir is the parent for scratch directories. Empty uses os.TempDir.
	Dir string
}

func (r *CommandRunner) Run(ctx context.Context, art backend.Artifact, _ []string) error {
	if len(r.Command) == 0 {
		return errors.New("test command not configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp(r.Dir, "cogflow-test-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "unit.go")
	if err := os.WriteFile(file, []byte(art.Code), 0o600); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module generated\n\ngo 1.24\n"), 0o600); err != nil {
		return fmt.Errorf("writing go.mod: %w", err)
	}

	args := make([]string, len(r.Command))
	for i, a := range r.Command {
		args[i] = strings.ReplaceAll(a, "{file}", file)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("tests timed out: %w", ctx.Err())
		}
		text := strings.TrimSpace(out.String())
		if len(text) > maxTestOutput {
			text = text[len(text)-maxTestOutput:]
		}
		if text == "" {
			return fmt.Errorf("tests failed: %w", err)
		}
		return fmt.Errorf("tests failed: %w\n%s", err, text)
	}
	return nil
}
