package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 10, cfg.TopN)
	assert.Equal(t, 512, cfg.EmbeddingDimension)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, "rerank-multilingual-v3.0", cfg.RerankerModel)
	assert.Equal(t, EmbeddingOpenAI, cfg.EmbeddingProvider)
	assert.Equal(t, VectorStoreQdrant, cfg.VectorStore)
	assert.Equal(t, RerankerCohere, cfg.RerankerProvider)

	assert.Equal(t, 6, cfg.EmbedRetry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.EmbedRetry.InitialInterval)
	assert.Equal(t, 20*time.Second, cfg.EmbedRetry.MaxInterval)
	assert.Equal(t, 3, cfg.SearchRetry.MaxAttempts)
	assert.Equal(t, 3, cfg.RerankRetry.MaxAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RERANKER_PROVIDER", "llm")
	t.Setenv("VECTOR_STORE", "pgvector")
	t.Setenv("TOP_K", "25")
	t.Setenv("SEARCH_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("SEARCH_RETRY_INITIAL_INTERVAL", "50ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RerankerLLM, cfg.RerankerProvider)
	assert.Equal(t, VectorStorePGVector, cfg.VectorStore)
	assert.Equal(t, 25, cfg.TopK)
	assert.Equal(t, 5, cfg.SearchRetry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.SearchRetry.InitialInterval)
	assert.Equal(t, 2*time.Second, cfg.SearchRetry.MaxInterval)

	policy := cfg.SearchRetry.Policy("search")
	assert.Equal(t, "search", policy.Name)
	assert.Equal(t, 5, policy.MaxAttempts)
}

func TestValidate(t *testing.T) {
	t.Run("Cohere without key", func(t *testing.T) {
		cfg := validConfig()
		cfg.CohereAPIKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "COHERE_API_KEY")
	})

	t.Run("Unknown providers", func(t *testing.T) {
		cfg := validConfig()
		cfg.EmbeddingProvider = "bogus"
		cfg.VectorStore = "bogus"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "EMBEDDING_PROVIDER")
		assert.Contains(t, err.Error(), "VECTOR_STORE")
	})

	t.Run("Non-positive bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.TopK = 0
		cfg.TopN = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TOP_K")
		assert.Contains(t, err.Error(), "TOP_N")
	})

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})
}

func validConfig() *Config {
	cfg := Default()
	cfg.EmbeddingProvider = EmbeddingOpenAI
	cfg.VectorStore = VectorStoreQdrant
	cfg.RerankerProvider = RerankerCohere
	cfg.CohereAPIKey = "key"
	cfg.TopK = 10
	cfg.TopN = 10
	cfg.EmbeddingDimension = 512
	cfg.BatchConcurrency = 1
	return cfg
}

func TestParse_SkipsValidation(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "")
	t.Setenv("JWT_SECRET", "s3cret")

	_, err := Load()
	assert.Error(t, err)

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
}
