package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/knoguchi/retriever/internal/config"
	"github.com/spf13/cobra"
)

var queryNamespace string

var queryCmd = &cobra.Command{
	Use:   "query [queries...]",
	Short: "Run a retrieval batch once and print the results as JSON",
	Long: `Run every query against one namespace and print a JSON array with one
array of chunks per query, in argument order.

Examples:
  retrieverd query -n docs "what is photosynthesis"
  retrieverd query -n docs "first question" "second question"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryNamespace, "namespace", "n", "", "namespace to search (required)")
	_ = queryCmd.MarkFlagRequired("namespace")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	deps, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	results, err := deps.pipeline.RetrieveBatch(ctx, args, queryNamespace)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
