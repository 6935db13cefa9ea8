package reranker

import (
	"context"

	"github.com/knoguchi/retriever/internal/retry"
)

// RetryingReranker applies a retry policy to every call of the wrapped Reranker.
type RetryingReranker struct {
	next   Reranker
	policy retry.Policy
}

// WithRetry wraps r so that transient failures are retried according to policy.
func WithRetry(r Reranker, policy retry.Policy) *RetryingReranker {
	if policy.Name == "" {
		policy.Name = "rerank"
	}
	return &RetryingReranker{next: r, policy: policy}
}

// Rerank calls the wrapped reranker under the retry policy.
func (r *RetryingReranker) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]Result, error) {
		return r.next.Rerank(ctx, query, docs, topN)
	})
}

// ModelName returns the wrapped reranker's model name.
func (r *RetryingReranker) ModelName() string {
	return r.next.ModelName()
}

var _ Reranker = (*RetryingReranker)(nil)
