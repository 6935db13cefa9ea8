package vectorstore

import (
	"context"

	"github.com/knoguchi/retriever/internal/retry"
)

// RetryingStore applies a retry policy to searches of the wrapped VectorStore.
type RetryingStore struct {
	next   VectorStore
	policy retry.Policy
}

// WithRetry wraps s so that transient search failures are retried according to policy.
func WithRetry(s VectorStore, policy retry.Policy) *RetryingStore {
	if policy.Name == "" {
		policy.Name = "search"
	}
	return &RetryingStore{next: s, policy: policy}
}

// Search calls the wrapped store under the retry policy.
func (r *RetryingStore) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]SearchResult, error) {
		return r.next.Search(ctx, req)
	})
}

// Health is not retried; readiness probes have their own cadence.
func (r *RetryingStore) Health(ctx context.Context) error {
	return r.next.Health(ctx)
}

var _ VectorStore = (*RetryingStore)(nil)
