package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `
name: auth-service
tasks:
  - id: model
    name: user model
    phase: 1
    size: 60
    complexity: 0.2
    outputs: [User]
    contract:
      - "func NewUser(email string) (*User, error)"
  - id: store
    name: user store
    phase: 1
    size: 120
    complexity: 0.5
    inputs: [User]
    outputs: [UserStore]
  - id: api
    name: http handlers
    phase: 2
    size: 180
    complexity: 0.75
    depends_on: [store]
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "auth-service", p.Name)
	require.Len(t, p.Tasks, 3)
	assert.Equal(t, []string{"User"}, p.Tasks[0].Outputs)
	assert.Equal(t, []string{"func NewUser(email string) (*User, error)"}, p.Tasks[0].Contract)
	assert.Equal(t, []string{"store"}, p.Tasks[2].DependsOn)
	assert.Equal(t, 0.75, p.Tasks[2].Complexity)
	require.NoError(t, p.Validate())
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n    colour: red\n"))
	assert.ErrorIs(t, err, ErrMalformedPlan)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrMalformedPlan)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, p.Tasks, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
