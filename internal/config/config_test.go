package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "lexical", cfg.Reranker.Provider)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 4, cfg.Pipeline.CandidateMultiplier)
	assert.Equal(t, "max", cfg.Pipeline.Merge)
	assert.InDelta(t, 0.8, cfg.Index.SimilarityThreshold, 1e-9)
	assert.False(t, cfg.Generation.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "retrievd")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	content := []byte(`
logging:
  level: debug
pipeline:
  top_k: 10
  use_reranking: true
vectorstore:
  backend: memory
index:
  similarity_threshold: 0.65
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Pipeline.TopK)
	assert.True(t, cfg.Pipeline.UseReranking)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)
	assert.InDelta(t, 0.65, cfg.Index.SimilarityThreshold, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "retrievd")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pipeline:\n  top_k: 10\n"), 0o600))

	t.Setenv("RETRIEVD_PIPELINE_TOP_K", "7")
	t.Setenv("RETRIEVD_VECTORSTORE_QDRANT_HOST", "qdrant.internal")
	t.Setenv("RETRIEVD_GENERATION_LLM_MODEL", "llama3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.TopK)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, "llama3", cfg.Generation.LLM.Model)
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "retrievd")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}"), 0o644))

	_, err := Load("")
	assert.ErrorContains(t, err, "permissions")
}

func TestLoadRejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0o600))

	_, err := Load(outside)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	t.Setenv("RETRIEVD_VECTORSTORE_BACKEND", "etcd")
	_, err := Load("")
	assert.ErrorContains(t, err, "vectorstore")
}

func TestEnvToPath(t *testing.T) {
	cases := map[string]string{
		"RETRIEVD_PIPELINE_TOP_K":            "pipeline.top_k",
		"RETRIEVD_LOGGING_LEVEL":             "logging.level",
		"RETRIEVD_VECTORSTORE_QDRANT_HOST":   "vectorstore.qdrant.host",
		"RETRIEVD_VECTORSTORE_CHROMEM_PATH":  "vectorstore.chromem.path",
		"RETRIEVD_GENERATION_LLM_BASE_URL":   "generation.llm.base_url",
		"RETRIEVD_EMBEDDINGS_PROVIDER":       "embeddings.provider",
		"RETRIEVD_INDEX_SIMILARITY_THRESHOLD": "index.similarity_threshold",
	}
	for in, want := range cases {
		assert.Equal(t, want, envToPath(in), in)
	}
}
