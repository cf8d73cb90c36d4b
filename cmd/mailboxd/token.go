package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	mailbox "github.com/rbaliyan/workspace-mailbox"
	"github.com/rbaliyan/workspace-mailbox/internal/app"
	"github.com/rbaliyan/workspace-mailbox/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token",
	Long: `Mint a signed bearer token for the API using the configured key.

ES256 requires auth.private_key_path.

Examples:
  # Token for an operator with full access, valid for a day
  mailboxd token --subject ops@example.com --super-admin --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

var (
	tokenSubject    string
	tokenSuperAdmin bool
	tokenTTL        time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "Token subject (required)")
	tokenCmd.Flags().BoolVar(&tokenSuperAdmin, "super-admin", false, "Grant super-admin access")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSubject == "" {
		return errors.New("--subject is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	tokens, err := app.NewTokens(cfg.Auth)
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := tokens.Mint(mailbox.Caller{Subject: tokenSubject, SuperAdmin: tokenSuperAdmin}, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
