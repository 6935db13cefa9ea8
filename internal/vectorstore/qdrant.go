package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/knoguchi/retriever/internal/retry"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds configuration for the Qdrant store.
type QdrantConfig struct {
	// URL should be in format "host:port" (e.g., "localhost:6334").
	URL    string
	APIKey string
	UseTLS bool

	// CollectionPrefix is prepended to the namespace to form the collection name.
	CollectionPrefix string

	// Metric is the distance the collections were created with.
	Metric Metric
}

// QdrantStore implements VectorStore using Qdrant. Each namespace maps to one collection.
type QdrantStore struct {
	client *qdrant.Client
	prefix string
	metric Metric
}

// NewQdrantStore creates a new Qdrant vector store client
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(cfg.URL)
	if err != nil {
		// If no port specified, assume default
		host = cfg.URL
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	metric := cfg.Metric
	if metric == "" {
		metric = MetricCosine
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, prefix: cfg.CollectionPrefix, metric: metric}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Health checks that Qdrant answers.
func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// collectionName returns the collection name for a namespace
func collectionName(prefix, namespace string) string {
	return prefix + namespace
}

// Search performs similarity search within the namespace's collection.
func (s *QdrantStore) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, retry.Permanent(err)
	}
	if req.Metric != "" && req.Metric != s.metric {
		return nil, retry.Permanent(fmt.Errorf("%w: collections use %s distance, %s requested", ErrMetricMismatch, s.metric, req.Metric))
	}

	query := &qdrant.QueryPoints{
		CollectionName: collectionName(s.prefix, req.Namespace),
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          qdrant.PtrOf(uint64(req.TopK)),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if req.Attributes != nil {
		query.WithPayload = qdrant.NewWithPayloadInclude(req.Attributes...)
	} else {
		query.WithPayload = qdrant.NewWithPayload(true)
	}

	response, err := s.client.Query(ctx, query)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Nothing was ever indexed under this namespace.
			return []SearchResult{}, nil
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	return convertPoints(response, req.Attributes), nil
}

// convertPoints maps Qdrant scored points onto search results.
func convertPoints(points []*qdrant.ScoredPoint, attributes []string) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		result := SearchResult{
			ID:         pointID(point.GetId()),
			Score:      point.GetScore(),
			Vector:     point.GetVectors().GetVector().GetData(),
			Attributes: make(map[string]string, len(point.GetPayload())),
		}
		for k, v := range point.GetPayload() {
			result.Attributes[k] = valueString(v)
		}
		result.Attributes = pickAttributes(result.Attributes, attributes)
		results = append(results, result)
	}
	return results
}

// pointID renders UUID and numeric point ids as strings.
func pointID(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// valueString renders scalar payload values as strings.
func valueString(v *qdrant.Value) string {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
