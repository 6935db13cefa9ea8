// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/knoguchi/retriever/internal/retry"
)

// ErrInvalidRequest is returned when the embedding service rejects a request as
// malformed. Such requests are never retried.
var ErrInvalidRequest = errors.New("invalid embedding request")

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	// The returned vector always has Dimension() elements.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// NativeDimensions maps embedding model names to the dimension they produce
// when no explicit output dimension is requested.
var NativeDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
}

// NativeDimension returns the native dimension of a model, or 768 if unknown.
func NativeDimension(model string) int {
	if dim, ok := NativeDimensions[model]; ok {
		return dim
	}
	return 768
}

// invalidRequest wraps err with ErrInvalidRequest and marks it permanent.
func invalidRequest(format string, args ...any) error {
	return retry.Permanent(fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

// checkDimension verifies a vector returned by a model.
func checkDimension(model string, got, want int) error {
	if got != want {
		return retry.Permanent(fmt.Errorf("model %s returned %d dimensions, expected %d", model, got, want))
	}
	return nil
}
