package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/knoguchi/retriever/internal/retry"
	"github.com/pgvector/pgvector-go"
)

// DefaultPGVectorTable is the table searched when none is configured.
//
// Expected schema:
//
//	CREATE TABLE chunks (
//	    namespace  text    NOT NULL,
//	    id         text    NOT NULL,
//	    embedding  vector  NOT NULL,
//	    attributes jsonb   NOT NULL DEFAULT '{}',
//	    PRIMARY KEY (namespace, id)
//	);
const DefaultPGVectorTable = "chunks"

// PGVectorStore implements VectorStore on PostgreSQL with the pgvector extension.
// Namespaces are rows sharing a namespace column value.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGVectorStore creates a new PostgreSQL connection pool and verifies it.
func NewPGVectorStore(ctx context.Context, databaseURL, table string) (*PGVectorStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if table == "" {
		table = DefaultPGVectorTable
	}

	return &PGVectorStore{pool: pool, table: table}, nil
}

// Close closes the connection pool
func (s *PGVectorStore) Close() {
	s.pool.Close()
}

// Health pings the database.
func (s *PGVectorStore) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Search performs similarity search restricted to one namespace.
func (s *PGVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, retry.Permanent(err)
	}

	query, err := buildSearchSQL(s.table, req.Metric)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	rows, err := s.pool.Query(ctx, query, req.Namespace, pgvector.NewVector(req.Vector), req.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, req.TopK)
	for rows.Next() {
		var (
			id       string
			vec      pgvector.Vector
			attrs    map[string]any
			distance float64
		)
		if err := rows.Scan(&id, &vec, &attrs, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		results = append(results, SearchResult{
			ID:         id,
			Score:      float32(scoreFromDistance(req.Metric, distance)),
			Vector:     vec.Slice(),
			Attributes: pickAttributes(stringifyAttributes(attrs), req.Attributes),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return results, nil
}

// distanceOperator returns the pgvector operator for a metric.
func distanceOperator(metric Metric) (string, error) {
	switch metric {
	case MetricCosine, "":
		return "<=>", nil
	case MetricEuclidean:
		return "<->", nil
	case MetricDot:
		return "<#>", nil
	default:
		return "", fmt.Errorf("%w: unsupported metric %q", ErrInvalidRequest, metric)
	}
}

// buildSearchSQL renders the nearest-neighbour query for table and metric.
// Parameters: $1 namespace, $2 query vector, $3 limit.
func buildSearchSQL(table string, metric Metric) (string, error) {
	op, err := distanceOperator(metric)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`
		SELECT id, embedding::text, attributes, (embedding %s $2::vector) AS distance
		FROM %s
		WHERE namespace = $1
		ORDER BY distance
		LIMIT $3
	`, op, pgx.Identifier{table}.Sanitize()), nil
}

// scoreFromDistance converts a pgvector distance into the score reported to
// callers: cosine similarity for cosine, inner product for dot, and the raw
// distance for euclidean.
func scoreFromDistance(metric Metric, distance float64) float64 {
	switch metric {
	case MetricEuclidean:
		return distance
	case MetricDot:
		// <#> returns the negative inner product.
		return -distance
	default:
		return 1 - distance
	}
}

// stringifyAttributes flattens jsonb attributes into strings.
func stringifyAttributes(attrs map[string]any) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		case float64:
			// jsonb numbers decode as float64; keep large ids out of exponent form.
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(v)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// Ensure PGVectorStore implements VectorStore
var _ VectorStore = (*PGVectorStore)(nil)
