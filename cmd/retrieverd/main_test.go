package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/knoguchi/retriever/internal/config"
	"github.com/knoguchi/retriever/internal/embedder"
	"github.com/knoguchi/retriever/internal/reranker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestNewAuthenticator(t *testing.T) {
	assert.False(t, newAuthenticator(&config.Config{}).Enabled())

	a := newAuthenticator(&config.Config{APIKey: "k3y"})
	_, err := a.Authenticate("k3y", "")
	assert.NoError(t, err)

	a = newAuthenticator(&config.Config{JWTSecret: "s3cret", JWTExpiry: time.Hour})
	_, err = a.Authenticate("", "garbage")
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	e, err := newEmbedder(&config.Config{EmbeddingProvider: config.EmbeddingOllama, OllamaEmbeddingModel: "nomic-embed-text", EmbeddingDimension: 768})
	require.NoError(t, err)
	assert.IsType(t, &embedder.OllamaEmbedder{}, e)
	assert.Equal(t, 768, e.Dimension())

	e, err = newEmbedder(&config.Config{EmbeddingProvider: config.EmbeddingOpenAI, EmbeddingModel: "text-embedding-3-small", EmbeddingDimension: 512})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", e.ModelName())

	_, err = newEmbedder(&config.Config{EmbeddingProvider: "bert"})
	assert.Error(t, err)
}

func TestNewReranker(t *testing.T) {
	r, err := newReranker(&config.Config{RerankerProvider: config.RerankerLLM, OllamaLLMModel: "mistral"})
	require.NoError(t, err)
	assert.IsType(t, &reranker.LLMReranker{}, r)
	assert.Equal(t, "mistral", r.ModelName())

	_, err = newReranker(&config.Config{RerankerProvider: config.RerankerCohere})
	assert.Error(t, err)

	r, err = newReranker(&config.Config{RerankerProvider: config.RerankerCohere, CohereAPIKey: "k", RerankerModel: "rerank-english-v3.0"})
	require.NoError(t, err)
	assert.Equal(t, "rerank-english-v3.0", r.ModelName())
}

func TestNewVectorStore_Unknown(t *testing.T) {
	_, err := newVectorStore(context.Background(), &config.Config{VectorStore: "milvus"}, &components{})
	assert.Error(t, err)
}
