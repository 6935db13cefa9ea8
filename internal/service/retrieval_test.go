package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/knoguchi/retriever/internal/auth"
	"github.com/knoguchi/retriever/internal/embedder"
	"github.com/knoguchi/retriever/internal/reranker"
	"github.com/knoguchi/retriever/internal/retrieval"
	"github.com/knoguchi/retriever/internal/retry"
	"github.com/knoguchi/retriever/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeBatcher struct {
	err       error
	queries   []string
	namespace string
}

func (f *fakeBatcher) RetrieveBatch(ctx context.Context, queries []string, namespace string) ([][]retrieval.Chunk, error) {
	f.queries = queries
	f.namespace = namespace
	if f.err != nil {
		return nil, f.err
	}
	results := make([][]retrieval.Chunk, len(queries))
	for i, q := range queries {
		results[i] = []retrieval.Chunk{{
			Text:                  "answer to " + q,
			Embedding:             []float32{1, 2},
			VectorID:              fmt.Sprintf("vec-%d", i),
			FileID:                "file.pdf",
			CosineSimilarityScore: 0.8,
			RerankerScore:         0.9,
		}}
	}
	return results, nil
}

func dial(t *testing.T, srv RetrievalServiceServer, opts ...grpc.ServerOption) RetrievalServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	RegisterRetrievalServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewRetrievalServiceClient(conn)
}

func request(t *testing.T, queries []any, namespace string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{"queries": queries, "namespace": namespace})
	require.NoError(t, err)
	return req
}

func TestRetrievalService_RetrieveBatch(t *testing.T) {
	batcher := &fakeBatcher{}
	client := dial(t, NewRetrievalService(batcher, nil))

	resp, err := client.RetrieveBatch(context.Background(), request(t, []any{"a", "b"}, "docs"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, batcher.queries)
	assert.Equal(t, "docs", batcher.namespace)

	results := resp.AsMap()["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].([]any)[0].(map[string]any)
	assert.Equal(t, "answer to a", first["text"])
	assert.Equal(t, "vec-0", first["vectorID"])
	assert.Equal(t, "file.pdf", first["fileID"])
	assert.Equal(t, 0.8, first["cosine_similarity_score"])
	assert.Equal(t, 0.9, first["reranker_score"])
	assert.NotContains(t, first, "embedding")
	assert.Equal(t, "vec-1", results[1].([]any)[0].(map[string]any)["vectorID"])
}

func TestRetrievalService_BadRequestShape(t *testing.T) {
	client := dial(t, NewRetrievalService(&fakeBatcher{}, nil))

	req, err := structpb.NewStruct(map[string]any{"queries": "not a list", "namespace": "docs"})
	require.NoError(t, err)
	_, err = client.RetrieveBatch(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.RetrieveBatch(context.Background(), request(t, []any{"a", 3.0}, "docs"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRetrievalService_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"Invalid input", fmt.Errorf("%w: namespace is required", retrieval.ErrInvalidInput), codes.InvalidArgument},
		{"Embedding rejected", &retrieval.StageError{Stage: retrieval.StageEmbed, Err: fmt.Errorf("%w: too long", embedder.ErrInvalidRequest)}, codes.InvalidArgument},
		{"Upstream failure", &retrieval.StageError{Stage: retrieval.StageSearch, Err: &retry.StatusError{Service: "qdrant", StatusCode: 503}}, codes.Unavailable},
		{"Bad reranker answer", &retrieval.StageError{Stage: retrieval.StageRerank, Err: reranker.ErrInvalidIndex}, codes.Unavailable},
		{"Wrapped gRPC deadline", &retrieval.StageError{Stage: retrieval.StageSearch, Err: status.Error(codes.DeadlineExceeded, "slow")}, codes.DeadlineExceeded},
		{"Deadline", fmt.Errorf("query 0: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"Canceled", context.Canceled, codes.Canceled},
		{"Unauthenticated", auth.ErrUnauthenticated, codes.Unauthenticated},
		{"Metric misconfigured", &retrieval.StageError{Stage: retrieval.StageSearch, Err: fmt.Errorf("%w: collections use dot distance", vectorstore.ErrMetricMismatch)}, codes.Internal},
		{"Unknown", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := dial(t, NewRetrievalService(&fakeBatcher{err: tt.err}, nil))
			_, err := client.RetrieveBatch(context.Background(), request(t, []any{"a"}, "docs"))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestStatusFromError_PassesStatusThrough(t *testing.T) {
	err := status.Error(codes.PermissionDenied, "no")
	assert.Equal(t, err, StatusFromError(err))
	assert.NoError(t, StatusFromError(nil))
}

func TestRetrievalService_Auth(t *testing.T) {
	authenticator := auth.NewAuthenticator("k3y", nil)
	client := dial(t, NewRetrievalService(&fakeBatcher{}, nil), grpc.UnaryInterceptor(authenticator.UnaryInterceptor()))

	_, err := client.RetrieveBatch(context.Background(), request(t, []any{"a"}, "docs"))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), auth.APIKeyHeader, "k3y")
	_, err = client.RetrieveBatch(ctx, request(t, []any{"a"}, "docs"))
	assert.NoError(t, err)
}
