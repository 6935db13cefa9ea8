// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for search requests that can never succeed.
var ErrInvalidRequest = errors.New("invalid search request")

// ErrMetricMismatch is returned when the requested metric differs from the one
// the store was configured with. It is a server configuration error.
var ErrMetricMismatch = errors.New("distance metric mismatch")

// Metric is the distance metric used to rank neighbours.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// ParseMetric converts a configuration string into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricCosine, MetricEuclidean, MetricDot:
		return m, nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// SearchRequest describes a nearest-neighbour query scoped to one namespace.
type SearchRequest struct {
	Namespace  string
	Vector     []float32
	TopK       int
	Metric     Metric
	Attributes []string // stored attributes to return with each result
}

// Validate checks the request before it is sent to a backend.
func (r SearchRequest) Validate() error {
	if r.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidRequest)
	}
	if len(r.Vector) == 0 {
		return fmt.Errorf("%w: query vector is empty", ErrInvalidRequest)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidRequest)
	}
	return nil
}

// SearchResult represents a search result from the vector store
type SearchResult struct {
	ID         string
	Score      float32   // similarity (or distance for euclidean) as reported by the backend
	Vector     []float32 // the stored embedding
	Attributes map[string]string
}

// VectorStore defines the interface for vector search operations. Stores are
// read-only from the retrieval service's point of view.
type VectorStore interface {
	// Search returns up to TopK nearest neighbours, nearest first. A namespace
	// with no vectors yields an empty result, not an error.
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
}

// pickAttributes keeps the requested keys of attrs. A nil selection keeps all.
func pickAttributes(attrs map[string]string, keys []string) map[string]string {
	if keys == nil {
		return attrs
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			out[k] = v
		}
	}
	return out
}
