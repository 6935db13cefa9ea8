// Package reranker re-scores retrieval candidates against the query.
//
// Rerankers see the query and each candidate together (cross-encoder style),
// which ranks better than the independent embeddings used by vector search
// when the nearest neighbours have similar similarity scores.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidIndex is returned when a reranker answers with an index outside the input documents.
var ErrInvalidIndex = errors.New("reranker returned out-of-range index")

// Document is one candidate passed to a reranker.
type Document struct {
	// ID is a stable identifier of the candidate (the vector ID).
	ID string

	// Text is the content scored against the query.
	Text string
}

// Result is one reranked document.
type Result struct {
	// Index refers into the documents passed to Rerank.
	Index int

	// ID is the ID of the document at Index.
	ID string

	// Score is the relevance score; higher is more relevant.
	Score float64

	// Text is the scored document text.
	Text string
}

// Reranker defines the interface for re-ranking candidates.
type Reranker interface {
	// Rerank scores docs against query and returns at most topN results,
	// most relevant first.
	Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error)

	// ModelName returns the relevance model in use.
	ModelName() string
}

// resolve attaches the document ID and text to a result and checks its index.
func resolve(docs []Document, index int, score float64) (Result, error) {
	if index < 0 || index >= len(docs) {
		return Result{}, fmt.Errorf("%w: %d (have %d documents)", ErrInvalidIndex, index, len(docs))
	}
	return Result{
		Index: index,
		ID:    docs[index].ID,
		Score: score,
		Text:  docs[index].Text,
	}, nil
}

// sortAndCap orders results by score descending and keeps the first topN.
func sortAndCap(results []Result, topN int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}
