package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/knoguchi/retriever/internal/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the default output dimension requested from OpenAI.
	DefaultOpenAIDimension = 512
)

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	// Model is the embedding model to use (default: text-embedding-3-small).
	Model string

	// Dimension is the output dimension requested from the API (default: 512).
	Dimension int

	// BaseURL overrides the API endpoint. The SDK also honours OPENAI_BASE_URL.
	BaseURL string

	// APIKey overrides the credential. When empty the SDK reads OPENAI_API_KEY.
	APIKey string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// OpenAIEmbedder implements the Embedder interface using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates a new OpenAI embedder. Retries inside the SDK are
// disabled; wrap the embedder with WithRetry to apply a retry policy.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultOpenAIDimension
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidRequest("empty input text")
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(e.model),
		Dimensions:     openai.Int(int64(e.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding returned from OpenAI")
	}

	data := resp.Data[0].Embedding
	if err := checkDimension(e.model, len(data), e.dimension); err != nil {
		return nil, err
	}

	embedding := make([]float32, len(data))
	for i, v := range data {
		embedding[i] = float32(v)
	}

	return embedding, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// classifyOpenAIError converts SDK errors into the retry taxonomy: invalid
// requests become permanent ErrInvalidRequest errors, other statuses become
// StatusErrors classified by code.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("failed to send request: %w", err)
	}

	statusErr := &retry.StatusError{Service: "openai", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return retry.Permanent(fmt.Errorf("%w: %w", ErrInvalidRequest, statusErr))
	}
	return statusErr
}

// Ensure OpenAIEmbedder implements Embedder interface.
var _ Embedder = (*OpenAIEmbedder)(nil)
