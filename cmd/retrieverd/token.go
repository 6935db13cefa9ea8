package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/knoguchi/retriever/internal/auth"
	"github.com/knoguchi/retriever/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenClient  string
	tokenExpiry  time.Duration
	tokenRefresh string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or refresh a JWT signed with JWT_SECRET",
	Long: `Issue a bearer token for a client, or refresh an existing (possibly expired) one.

Examples:
  retrieverd token --client search-frontend
  retrieverd token --client batch-job --expiry 1h
  retrieverd token --refresh "$TOKEN"`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenClient, "client", "", "client name stored as the token subject")
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "token lifetime (default JWT_EXPIRY)")
	tokenCmd.Flags().StringVar(&tokenRefresh, "refresh", "", "existing token to refresh")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.Expiry = cfg.JWTExpiry
	manager := auth.NewJWTManager(jwtCfg)

	var token string
	switch {
	case tokenRefresh != "":
		token, err = manager.RefreshToken(tokenRefresh)
	case tokenClient == "":
		return errors.New("--client or --refresh is required")
	case tokenExpiry > 0:
		token, err = manager.GenerateTokenWithExpiry(tokenClient, tokenExpiry)
	default:
		token, err = manager.GenerateToken(tokenClient)
	}
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
