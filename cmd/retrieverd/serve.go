package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/knoguchi/retriever/internal/auth"
	"github.com/knoguchi/retriever/internal/config"
	"github.com/knoguchi/retriever/internal/server"
	"github.com/knoguchi/retriever/internal/service"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful shutdown of both servers.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"embedding_provider", cfg.EmbeddingProvider,
		"vector_store", cfg.VectorStore,
		"reranker_provider", cfg.RerankerProvider,
	)

	if cfg.GopsEnabled {
		if err := agent.Listen(agent.Options{}); err != nil {
			slog.Warn("failed to start gops agent", "error", err)
		} else {
			defer agent.Close()
		}
	}

	deps, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	authenticator := newAuthenticator(cfg)
	if !authenticator.Enabled() {
		slog.Warn("authentication disabled: neither API_KEY nor JWT_SECRET is set")
	}

	retrievalSvc := service.NewRetrievalService(deps.pipeline, slog.Default())

	// Create gRPC server
	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: slog.Default(),
		Auth:   authenticator,
	}, retrievalSvc)
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	// Create HTTP server
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Auth:           authenticator,
		Retrieval:      retrievalSvc,
		Health:         deps.store,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	// Graceful shutdown
	slog.Info("shutting down servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	slog.Info("servers stopped")
	return nil
}

// newAuthenticator enables API key and JWT auth for the values that are configured.
func newAuthenticator(cfg *config.Config) *auth.Authenticator {
	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Expiry = cfg.JWTExpiry
		jwtManager = auth.NewJWTManager(jwtCfg)
	}
	return auth.NewAuthenticator(cfg.APIKey, jwtManager)
}
