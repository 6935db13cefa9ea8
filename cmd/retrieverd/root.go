package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "retrieverd",
	Short: "Batch retrieval service: embed, vector search, rerank",
	Long: `retrieverd turns natural-language queries into ranked context chunks.

Each query is embedded, searched in the namespace's vector index and the
candidates are reranked by a relevance model.

Example usage:
  retrieverd serve                                  # Run the HTTP and gRPC servers
  retrieverd query -n docs "what is photosynthesis"  # Run queries once and print JSON
  retrieverd token --client search-frontend         # Issue a JWT for a client`,
	SilenceUsage: true,
}
