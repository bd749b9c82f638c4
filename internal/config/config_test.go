package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
index:
  type: flat
  codec: lz4
  dimension: 8
retrieval:
  top_k: 5
  max_context_chars: 8000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "flat", cfg.Index.Type)
	assert.Equal(t, "lz4", cfg.Index.Codec)
	assert.Equal(t, 8, cfg.Index.Dimension)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 8000, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, 3, cfg.Retrieval.KeywordCandidates)
	assert.False(t, cfg.Debug)
}

func TestLoad_DerivesPathsFromDataDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "./state"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(dir, "state", "db", "activity.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "state", "indices", "bleve"), cfg.Storage.KeywordIndexPath)
	assert.Equal(t, filepath.Join(dir, "state", "indices", "vectors"), cfg.Storage.IndexDir)
	require.Len(t, cfg.Watch.Directories, 1)
	assert.Equal(t, filepath.Join(dir, "inbox"), cfg.Watch.Directories[0])
}

func TestLoad_ExplicitPathOverridesDataDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/var/lib/heelix"
  database_path: "./docs.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "docs.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, "/var/lib/heelix/indices/vectors", cfg.Storage.IndexDir)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"index type":   "index:\n  type: ivf\n",
		"codec":        "index:\n  codec: gzip\n",
		"top_k":        "retrieval:\n  top_k: 11\n",
		"context size": "retrieval:\n  max_context_chars: 20000\n",
		"yaml":         "server: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-env")
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "sk-env", cfg.Embedding.APIKey)

	cfg, err = Load(writeConfig(t, "embedding:\n  api_key: sk-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Embedding.APIKey)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "activity_vectors", cfg.Index.Collection)
	assert.Equal(t, "hnsw", cfg.Index.Type)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 5000, cfg.Retrieval.MaxContextChars)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults_ProviderDimensions(t *testing.T) {
	onnx := &Config{Embedding: EmbeddingConfig{Provider: "onnx"}}
	ApplyDefaults(onnx)
	assert.Equal(t, 384, onnx.Embedding.Dimensions)
	assert.Empty(t, onnx.Embedding.Model)

	zero := &Config{Embedding: EmbeddingConfig{Provider: "zero"}}
	ApplyDefaults(zero)
	assert.Equal(t, 512, zero.Embedding.Dimensions)
}

func TestSave_OmitsAPIKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Embedding.APIKey = "sk-secret"
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "sk-secret", cfg.Embedding.APIKey)
}
