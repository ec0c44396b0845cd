package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.LLMModel)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 15, cfg.RAG.TopK)
	assert.Equal(t, 500, cfg.RAG.IngestBatchSize)
	assert.Equal(t, "notebook_docs", cfg.Storage.CollectionName)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "8081", cfg.Server.WebhookPort)
	assert.Equal(t, 24, cfg.HubSpot.CacheTTLHours)
	assert.False(t, cfg.RAG.SkipQueryCorrection)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHUNK_SIZE", "256")
	t.Setenv("SKIP_QUERY_CORRECTION", "true")
	t.Setenv("COLLECTION_NAME", "custom_docs")
	t.Setenv("HUBSPOT_ACCESS_TOKEN", "pat-eu1-abc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.True(t, cfg.RAG.SkipQueryCorrection)
	assert.Equal(t, "custom_docs", cfg.Storage.CollectionName)
	assert.Equal(t, "pat-eu1-abc", cfg.HubSpot.AccessToken)
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
rag:
  chunk_size: 300
  top_k: 7
server:
  port: "9999"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("TOP_K", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.RAG.ChunkSize)
	// env wins over the file
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "9999", cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateForChat(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.ValidateForChat())

	cfg.OpenAI.APIKey = "sk-test"
	assert.NoError(t, cfg.ValidateForChat())
}
