package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knoguchi/retriever/internal/config"
	"github.com/knoguchi/retriever/internal/embedder"
	"github.com/knoguchi/retriever/internal/llm"
	"github.com/knoguchi/retriever/internal/reranker"
	"github.com/knoguchi/retriever/internal/retrieval"
	"github.com/knoguchi/retriever/internal/vectorstore"
)

// components are the long-lived clients shared by every request.
type components struct {
	pipeline *retrieval.Pipeline
	store    vectorstore.VectorStore
	closers  []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// build constructs the clients selected by cfg and the pipeline over them.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	embed, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg, c)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.store = store

	rr, err := newReranker(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	metric, err := vectorstore.ParseMetric(cfg.QdrantDistance)
	if err != nil {
		c.Close()
		return nil, err
	}
	if cfg.VectorStore == config.VectorStorePGVector {
		metric = vectorstore.MetricCosine
	}

	c.pipeline = retrieval.NewPipeline(
		embedder.WithRetry(embed, cfg.EmbedRetry.Policy("embed")),
		vectorstore.WithRetry(store, cfg.SearchRetry.Policy("search")),
		reranker.WithRetry(rr, cfg.RerankRetry.Policy("rerank")),
		retrieval.WithTopK(cfg.TopK),
		retrieval.WithTopN(cfg.TopN),
		retrieval.WithMetric(metric),
		retrieval.WithConcurrency(cfg.BatchConcurrency),
		retrieval.WithLogger(slog.Default()),
	)

	return c, nil
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingOpenAI:
		e := embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
			BaseURL:   cfg.OpenAIBaseURL,
		})
		slog.Info("initialized OpenAI embedder", "model", e.ModelName(), "dimension", e.Dimension())
		return e, nil
	case config.EmbeddingOllama:
		// Ollama cannot truncate embeddings; the model's native dimension applies.
		e := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		})
		slog.Info("initialized Ollama embedder", "model", e.ModelName(), "dimension", e.Dimension())
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, c *components) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore {
	case config.VectorStoreQdrant:
		metric, err := vectorstore.ParseMetric(cfg.QdrantDistance)
		if err != nil {
			return nil, err
		}
		store, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			URL:              cfg.QdrantGRPCURL,
			APIKey:           cfg.QdrantAPIKey,
			UseTLS:           cfg.QdrantUseTLS,
			CollectionPrefix: cfg.QdrantCollectionPrefix,
			Metric:           metric,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		c.closers = append(c.closers, func() { _ = store.Close() })
		slog.Info("connected to Qdrant", "url", cfg.QdrantGRPCURL)
		return store, nil
	case config.VectorStorePGVector:
		store, err := vectorstore.NewPGVectorStore(ctx, cfg.DatabaseURL, cfg.PGVectorTable)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		c.closers = append(c.closers, store.Close)
		slog.Info("connected to PostgreSQL", "table", cfg.PGVectorTable)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
	}
}

func newReranker(cfg *config.Config) (reranker.Reranker, error) {
	switch cfg.RerankerProvider {
	case config.RerankerCohere:
		r, err := reranker.NewCohereReranker(reranker.CohereConfig{
			APIKey:  cfg.CohereAPIKey,
			Model:   cfg.RerankerModel,
			BaseURL: cfg.CohereBaseURL,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("initialized Cohere reranker", "model", r.ModelName())
		return r, nil
	case config.RerankerLLM:
		llmClient := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
		)
		r := reranker.NewLLMReranker(llmClient, reranker.WithModel(llmClient.Model()))
		slog.Info("initialized LLM reranker", "model", r.ModelName())
		return r, nil
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.RerankerProvider)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.VectorStore = (*vectorstore.QdrantStore)(nil)
	_ vectorstore.VectorStore = (*vectorstore.PGVectorStore)(nil)
	_ embedder.Embedder       = (*embedder.OpenAIEmbedder)(nil)
	_ embedder.Embedder       = (*embedder.OllamaEmbedder)(nil)
	_ reranker.Reranker       = (*reranker.CohereReranker)(nil)
	_ reranker.Reranker       = (*reranker.LLMReranker)(nil)
	_ llm.LLM                 = (*llm.OllamaClient)(nil)
)
