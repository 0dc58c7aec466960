package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeRegistry(t, `
workers:
  - name: coder
    capabilities: [Edit, Bash]
    specialization_score: 0.8
    description_keywords: [refactor, "code review"]
  - name: researcher
    capabilities: [WebSearch]
    specialization_score: 0.3
`)

	workers, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, workers, 2)

	assert.Equal(t, "coder", workers[0].Name)
	assert.Equal(t, []string{"Edit", "Bash"}, workers[0].Capabilities)
	assert.Equal(t, 0.8, workers[0].SpecializationScore)
	assert.Equal(t, []string{"refactor", "code review"}, workers[0].DescriptionKeywords)
	assert.True(t, workers[1].HasCapability("WebSearch"))
}

func TestLoad_Empty(t *testing.T) {
	path := writeRegistry(t, "workers: []\n")

	_, err := Load(path, zap.NewNop())
	require.ErrorIs(t, err, ErrNoWorkers)
}

func TestLoad_DuplicateName(t *testing.T) {
	path := writeRegistry(t, `
workers:
  - name: coder
    capabilities: [Edit]
  - name: coder
    capabilities: [Bash]
`)

	_, err := Load(path, zap.NewNop())
	require.ErrorIs(t, err, ErrDuplicateWorker)
}

func TestLoad_MissingCapabilities(t *testing.T) {
	path := writeRegistry(t, `
workers:
  - name: coder
`)

	_, err := Load(path, zap.NewNop())
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	require.Error(t, err)
}
