package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/knoguchi/retriever/internal/embedder"
	"github.com/knoguchi/retriever/internal/reranker"
	"github.com/knoguchi/retriever/internal/vectorstore"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTopK is the number of nearest neighbours fetched per query.
	DefaultTopK = 10

	// DefaultTopN is the number of reranked chunks kept per query.
	DefaultTopN = 10

	// DefaultConcurrency is the number of queries of one batch processed at once.
	DefaultConcurrency = 4
)

// ErrInvalidInput is returned for batches that cannot be processed.
var ErrInvalidInput = errors.New("invalid retrieval input")

// Pipeline stages that call a remote service.
const (
	StageEmbed  = "embed"
	StageSearch = "search"
	StageRerank = "rerank"
)

// StageError reports which remote call of the pipeline failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id used in logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Pipeline retrieves reranked chunks for queries.
type Pipeline struct {
	embedder    embedder.Embedder
	store       vectorstore.VectorStore
	reranker    reranker.Reranker
	topK        int
	topN        int
	metric      vectorstore.Metric
	concurrency int
	logger      *slog.Logger
}

// Option is a functional option for configuring Pipeline.
type Option func(*Pipeline)

// WithTopK sets the number of neighbours fetched from vector search.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithTopN sets the number of reranked chunks returned per query.
func WithTopN(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.topN = n
		}
	}
}

// WithMetric sets the similarity metric requested from vector search.
func WithMetric(m vectorstore.Metric) Option {
	return func(p *Pipeline) {
		if m != "" {
			p.metric = m
		}
	}
}

// WithConcurrency bounds the number of queries of a batch processed at once.
// 1 processes queries sequentially.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger used for result and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a retrieval pipeline over the given clients.
func NewPipeline(emb embedder.Embedder, store vectorstore.VectorStore, rr reranker.Reranker, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:    emb,
		store:       store,
		reranker:    rr,
		topK:        DefaultTopK,
		topN:        DefaultTopN,
		metric:      vectorstore.MetricCosine,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RetrieveBatch runs Retrieve for every query and returns the results in
// query order. Any failing query fails the whole batch.
func (p *Pipeline) RetrieveBatch(ctx context.Context, queries []string, namespace string) ([][]Chunk, error) {
	if err := validateBatch(queries, namespace); err != nil {
		return nil, err
	}

	if RequestID(ctx) == "" {
		ctx = WithRequestID(ctx, uuid.NewString())
	}

	results := make([][]Chunk, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, query := range queries {
		g.Go(func() error {
			chunks, err := p.retrieve(gctx, query, namespace, i)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = chunks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("retrieval batch failed",
			"request_id", RequestID(ctx),
			"namespace", namespace,
			"queries", len(queries),
			"error", err,
		)
		return nil, err
	}

	return results, nil
}

// Retrieve returns the reranked chunks for a single query, most relevant first.
func (p *Pipeline) Retrieve(ctx context.Context, query, namespace string) ([]Chunk, error) {
	if err := validateBatch([]string{query}, namespace); err != nil {
		return nil, err
	}
	return p.retrieve(ctx, query, namespace, 0)
}

func (p *Pipeline) retrieve(ctx context.Context, query, namespace string, index int) ([]Chunk, error) {
	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &StageError{Stage: StageEmbed, Err: err}
	}

	candidates, err := p.store.Search(ctx, vectorstore.SearchRequest{
		Namespace:  namespace,
		Vector:     vector,
		TopK:       p.topK,
		Metric:     p.metric,
		Attributes: []string{AttributeText, AttributeFileID},
	})
	if err != nil {
		return nil, &StageError{Stage: StageSearch, Err: err}
	}

	candidates = dedupe(candidates)
	if len(candidates) == 0 {
		p.logResults(ctx, namespace, index, []Chunk{})
		return []Chunk{}, nil
	}

	docs := make([]reranker.Document, len(candidates))
	for i, c := range candidates {
		docs[i] = reranker.Document{ID: c.ID, Text: c.Attributes[AttributeText]}
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, p.topN)
	if err != nil {
		return nil, &StageError{Stage: StageRerank, Err: err}
	}

	chunks, err := join(candidates, ranked, p.topN)
	if err != nil {
		return nil, &StageError{Stage: StageRerank, Err: err}
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RerankerScore > chunks[j].RerankerScore
	})

	p.logResults(ctx, namespace, index, chunks)
	return chunks, nil
}

// join merges reranked results with their search candidates.
func join(candidates []vectorstore.SearchResult, ranked []reranker.Result, topN int) ([]Chunk, error) {
	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}

	chunks := make([]Chunk, 0, min(len(ranked), topN))
	used := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		if len(chunks) == topN {
			break
		}

		i, ok := byID[r.ID]
		if !ok {
			i = r.Index
		}
		if i < 0 || i >= len(candidates) {
			return nil, fmt.Errorf("%w: %d", reranker.ErrInvalidIndex, r.Index)
		}
		if used[i] {
			continue
		}
		used[i] = true

		c := candidates[i]
		score := float64(c.Score)
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return nil, fmt.Errorf("reranker returned non-finite score for %s", c.ID)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("vector search returned non-finite score for %s", c.ID)
		}

		text := r.Text
		if text == "" {
			text = c.Attributes[AttributeText]
		}

		chunks = append(chunks, Chunk{
			Text:                  text,
			Embedding:             c.Vector,
			VectorID:              c.ID,
			FileID:                c.Attributes[AttributeFileID],
			CosineSimilarityScore: score,
			RerankerScore:         r.Score,
		})
	}

	return chunks, nil
}

// dedupe drops repeated vector IDs, keeping the first occurrence.
func dedupe(results []vectorstore.SearchResult) []vectorstore.SearchResult {
	seen := make(map[string]bool, len(results))
	out := make([]vectorstore.SearchResult, 0, len(results))
	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

func (p *Pipeline) logResults(ctx context.Context, namespace string, index int, chunks []Chunk) {
	p.logger.InfoContext(ctx, "retrieval results",
		"request_id", RequestID(ctx),
		"namespace", namespace,
		"query_index", index,
		"count", len(chunks),
		"chunks", chunks,
	)
}

func validateBatch(queries []string, namespace string) error {
	if len(queries) == 0 {
		return fmt.Errorf("%w: at least one query is required", ErrInvalidInput)
	}
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("%w: query %d is empty", ErrInvalidInput, i)
		}
	}
	if namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}
	return nil
}
