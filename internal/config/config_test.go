package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	"github.com/KaramelBytes/docloom-embed/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", c.EmbeddingProvider)
	assert.Equal(t, "cl100k_base", c.TokenizerEncoding)
	assert.Equal(t, "json", c.VectorStore)
	assert.Equal(t, filepath.Join(home, ".docloom", "index"), c.IndexDir)
	assert.Equal(t, filepath.Join(home, ".docloom", "ledger.db"), c.LedgerPath)
	assert.Equal(t, filepath.Join(home, ".docloom", "projects"), c.ProjectsDir)
	assert.Zero(t, c.BudgetCredits)

	cc, err := c.ChunkConfig()
	require.NoError(t, err)
	assert.Equal(t, chunking.DefaultConfig(), cc)

	cv, err := c.CreditValue()
	require.NoError(t, err)
	assert.Equal(t, "0.0001", cv.String())
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "embed.yaml")
	body := "embedding_model: nomic-embed-text\nchunk_max_tokens: 256\ncredit_value_usd: \"0.001\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("DOCLOOM_CHUNK_OVERLAP_TOKENS", "20")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", c.EmbeddingModel)
	assert.Equal(t, 256, c.ChunkMaxTokens)
	assert.Equal(t, 20, c.ChunkOverlapTokens)
	cv, err := c.CreditValue()
	require.NoError(t, err)
	assert.Equal(t, "0.001", cv.String())
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "embed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_max_tokens: [unclosed\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "embed.yaml")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Set("embedding_provider", "Local"))
	require.NoError(t, c.Set("chunk_min_tokens", "10"))
	require.NoError(t, Save(c, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", back.EmbeddingProvider)
	assert.Equal(t, 10, back.ChunkMinTokens)
}

func TestSetValidation(t *testing.T) {
	c := &Global{ChunkMaxTokens: 512, CreditValueUSD: "0.0001"}
	assert.Error(t, c.Set("chunk_max_tokens", "-3"))
	assert.Equal(t, 512, c.ChunkMaxTokens, "failed set must not clobber the value")
	assert.Error(t, c.Set("vector_store", "redis"))
	assert.Error(t, c.Set("embedding_provider", "bedrock"))
	assert.Error(t, c.Set("nope", "x"))
	assert.Error(t, c.Set("budget_credits", "-1"))
	require.NoError(t, c.Set("budget_credits", "500"))
	assert.Equal(t, int64(500), c.BudgetCredits)

	assert.Error(t, c.Set("credit_value_usd", "0"))
	assert.Equal(t, "0.0001", c.CreditValueUSD)
	require.NoError(t, c.Set("vector_store", "chromem"))
	assert.Equal(t, "chromem", c.VectorStore)
}

func TestChunkConfigRejectsInvalid(t *testing.T) {
	c := &Global{ChunkMaxTokens: 50, ChunkOverlapTokens: 10, ChunkMinTokens: 50}
	_, err := c.ChunkConfig()
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
