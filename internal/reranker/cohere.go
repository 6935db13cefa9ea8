package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/retriever/internal/retry"
)

const (
	// DefaultCohereBaseURL is the Cohere API base URL.
	DefaultCohereBaseURL = "https://api.cohere.com"

	// DefaultCohereModel is the default rerank model.
	DefaultCohereModel = "rerank-multilingual-v3.0"

	// maxCohereDocuments is the per-request document limit of the rerank endpoint.
	maxCohereDocuments = 1000
)

// CohereConfig holds configuration for the Cohere reranker.
type CohereConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// CohereReranker implements Reranker using Cohere's rerank API.
type CohereReranker struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// NewCohereReranker creates a new Cohere reranker.
func NewCohereReranker(cfg CohereConfig) (*CohereReranker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cohere API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultCohereModel
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultCohereBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &CohereReranker{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

// Rerank scores and reorders documents based on query relevance.
func (r *CohereReranker) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) > maxCohereDocuments {
		docs = docs[:maxCohereDocuments]
	}
	if topN <= 0 || topN > len(docs) {
		topN = len(docs)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	jsonData, err := json.Marshal(cohereRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &retry.StatusError{Service: "cohere", StatusCode: resp.StatusCode, Body: string(body)}
		if !statusErr.Temporary() {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	var rerankResp cohereRerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(rerankResp.Results))
	for _, res := range rerankResp.Results {
		result, err := resolve(docs, res.Index, res.RelevanceScore)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		results = append(results, result)
	}

	return sortAndCap(results, topN), nil
}

// ModelName returns the model name.
func (r *CohereReranker) ModelName() string {
	return r.model
}

var _ Reranker = (*CohereReranker)(nil)
