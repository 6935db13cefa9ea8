package embedder

import (
	"context"

	"github.com/knoguchi/retriever/internal/retry"
)

// RetryingEmbedder applies a retry policy to every call of the wrapped Embedder.
type RetryingEmbedder struct {
	next   Embedder
	policy retry.Policy
}

// WithRetry wraps e so that transient failures are retried according to policy.
func WithRetry(e Embedder, policy retry.Policy) *RetryingEmbedder {
	if policy.Name == "" {
		policy.Name = "embed"
	}
	return &RetryingEmbedder{next: e, policy: policy}
}

// Embed calls the wrapped embedder under the retry policy.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]float32, error) {
		return r.next.Embed(ctx, text)
	})
}

// Dimension returns the wrapped embedder's dimension.
func (r *RetryingEmbedder) Dimension() int {
	return r.next.Dimension()
}

// ModelName returns the wrapped embedder's model name.
func (r *RetryingEmbedder) ModelName() string {
	return r.next.ModelName()
}

var _ Embedder = (*RetryingEmbedder)(nil)
