package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/knoguchi/retriever/internal/auth"
	"github.com/knoguchi/retriever/internal/embedder"
	"github.com/knoguchi/retriever/internal/reranker"
	"github.com/knoguchi/retriever/internal/retrieval"
	"github.com/knoguchi/retriever/internal/vectorstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Batcher runs a batch of queries against one namespace.
type Batcher interface {
	RetrieveBatch(ctx context.Context, queries []string, namespace string) ([][]retrieval.Chunk, error)
}

// RetrievalService implements RetrievalServiceServer on top of a retrieval pipeline.
type RetrievalService struct {
	pipeline Batcher
	logger   *slog.Logger
}

// NewRetrievalService creates a new RetrievalService
func NewRetrievalService(pipeline Batcher, logger *slog.Logger) *RetrievalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{pipeline: pipeline, logger: logger}
}

// BatchRequest is the decoded form of a RetrieveBatch request.
type BatchRequest struct {
	Queries   []string `json:"queries"`
	Namespace string   `json:"namespace"`
}

// BatchResponse is the decoded form of a RetrieveBatch response.
type BatchResponse struct {
	Results [][]retrieval.Chunk `json:"results"`
}

// Retrieve runs the batch and maps failures to gRPC status errors.
func (s *RetrievalService) Retrieve(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	results, err := s.pipeline.RetrieveBatch(ctx, req.Queries, req.Namespace)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &BatchResponse{Results: results}, nil
}

// RetrieveBatch handles retriever.v1.RetrievalService/RetrieveBatch.
func (s *RetrievalService) RetrieveBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	batch, err := DecodeBatchRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.Retrieve(ctx, batch)
	if err != nil {
		return nil, err
	}

	out, err := EncodeBatchResponse(resp)
	if err != nil {
		s.logger.Error("failed to encode retrieval response", "error", err)
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// DecodeBatchRequest reads {"queries": [...], "namespace": "..."} from a Struct.
func DecodeBatchRequest(req *structpb.Struct) (BatchRequest, error) {
	var batch BatchRequest
	fields := req.GetFields()

	if v, ok := fields["namespace"]; ok {
		ns, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return batch, errors.New("namespace must be a string")
		}
		batch.Namespace = ns.StringValue
	}

	if v, ok := fields["queries"]; ok {
		list, ok := v.GetKind().(*structpb.Value_ListValue)
		if !ok {
			return batch, errors.New("queries must be a list of strings")
		}
		for i, item := range list.ListValue.GetValues() {
			q, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return batch, fmt.Errorf("query %d must be a string", i)
			}
			batch.Queries = append(batch.Queries, q.StringValue)
		}
	}

	return batch, nil
}

// EncodeBatchResponse renders results as {"results": [[chunk, ...], ...]}.
func EncodeBatchResponse(resp *BatchResponse) (*structpb.Struct, error) {
	results := make([]any, len(resp.Results))
	for i, chunks := range resp.Results {
		list := make([]any, len(chunks))
		for j, c := range chunks {
			list[j] = map[string]any{
				"text":                    c.Text,
				"vectorID":                c.VectorID,
				"fileID":                  c.FileID,
				"cosine_similarity_score": c.CosineSimilarityScore,
				"reranker_score":          c.RerankerScore,
			}
		}
		results[i] = list
	}
	return structpb.NewStruct(map[string]any{"results": results})
}

// StatusFromError maps pipeline errors onto gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		// Top-level statuses (e.g. from interceptors) pass through.
		return err
	}

	var stageErr *retrieval.StageError
	switch {
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, vectorstore.ErrMetricMismatch):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, retrieval.ErrInvalidInput),
		errors.Is(err, embedder.ErrInvalidRequest),
		errors.Is(err, vectorstore.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, reranker.ErrInvalidIndex), errors.As(err, &stageErr):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
