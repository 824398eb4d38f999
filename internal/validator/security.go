package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
)

// SecurityLayer is advisory. It runs the gitleaks default rule set over the
// code and flags imports and calls that generated code should not need.
type SecurityLayer struct {
	once     sync.Once
	mu       sync.Mutex
	detector *detect.Detector
	initErr  error
}

// NewSecurityLayer creates the layer. The gitleaks detector is built on
// first use.
func NewSecurityLayer() *SecurityLayer {
	return &SecurityLayer{}
}

func (*SecurityLayer) Name() string    { return LayerSecurity }
func (*SecurityLayer) Mandatory() bool { return false }

func (s *SecurityLayer) Check(ctx context.Context, art backend.Artifact, _ []string) error {
	var issues []string

	secrets, err := s.detectSecrets(art.Code)
	if err != nil {
		return fmt.Errorf("secret scan: %w", err)
	}
	issues = append(issues, secrets...)

	src := []byte(art.Code)
	tree, err := parseGo(ctx, src)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()
	issues = append(issues, dangerousUses(tree.RootNode(), src)...)

	if len(issues) > 0 {
		return errors.New(strings.Join(issues, "; "))
	}
	return nil
}

// detectSecrets reports rule ids and lines, never the secret itself.
func (s *SecurityLayer) detectSecrets(code string) ([]string, error) {
	s.once.Do(func() {
		s.detector, s.initErr = detect.NewDetectorDefaultConfig()
	})
	if s.initErr != nil {
		return nil, s.initErr
	}

	s.mu.Lock()
	findings := s.detector.DetectString(code)
	s.mu.Unlock()

	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, fmt.Sprintf("line %d: possible secret (%s)", f.StartLine, f.RuleID))
	}
	return out, nil
}

var _ Layer = (*SecurityLayer)(nil)
