// Package retrieval turns natural-language queries into ranked context chunks:
// embed the query, search the namespace's vector index, rerank the candidates.
package retrieval

// Chunk is one retrieved passage with its provenance and scores.
type Chunk struct {
	Text string `json:"text"`

	// Embedding is the stored vector of the passage. It is kept for callers
	// in process and never serialized.
	Embedding []float32 `json:"-"`

	VectorID string `json:"vectorID"`
	FileID   string `json:"fileID"`

	// CosineSimilarityScore is the score reported by vector search.
	CosineSimilarityScore float64 `json:"cosine_similarity_score"`

	// RerankerScore is the relevance assigned by the reranker; results are
	// sorted by it, highest first.
	RerankerScore float64 `json:"reranker_score"`
}

// Attribute names read from stored vectors.
const (
	AttributeText   = "text"
	AttributeFileID = "fileID"
)
