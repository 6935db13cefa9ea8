package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/retriever/internal/llm"
)

// maxPromptDocumentLength truncates long documents to keep the prompt within context limits.
const maxPromptDocumentLength = 500

// LLMReranker uses an LLM to re-score query-document pairs.
// The model sees the query and every document together, which approximates a
// cross-encoder without a dedicated rerank endpoint.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		if model != "" {
			r.model = model
		}
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     llm.DefaultModel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// relevanceScore represents the structured output from the LLM.
type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank asks the LLM to score each document's relevance to the query.
func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	opts := llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0, // Deterministic scoring
		MaxTokens:   1024,
		Format:      "json",
	}

	response, err := r.llmClient.Generate(ctx, r.buildRerankPrompt(query, docs), opts)
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	scores, err := parseRerankResponse(response)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(scores))
	results := make([]Result, 0, len(scores))
	for _, s := range scores {
		if seen[s.DocIndex] {
			continue
		}
		seen[s.DocIndex] = true

		result, err := resolve(docs, s.DocIndex, clamp(s.Score))
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return sortAndCap(results, topN), nil
}

// ModelName returns the LLM used for scoring.
func (r *LLMReranker) ModelName() string {
	return r.model
}

// buildRerankPrompt constructs the prompt for LLM-based reranking.
func (r *LLMReranker) buildRerankPrompt(query string, docs []Document) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, doc := range docs {
		content := doc.Text
		if len(content) > maxPromptDocumentLength {
			content = content[:maxPromptDocumentLength] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, content)
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts scores from the LLM response, tolerating
// markdown code fences around the JSON.
func parseRerankResponse(response string) ([]relevanceScore, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("failed to parse rerank response: no scores")
	}

	return parsed.Scores, nil
}

// clamp limits a score to [0, 1].
func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var _ Reranker = (*LLMReranker)(nil)
