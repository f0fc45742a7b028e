package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/config"
)

var (
	tokenSubject string
	tokenScopes  string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a review API token with JWT_SECRET",
	Long: `Sign a bearer token for the review API using JWT_SECRET and JWT_ISSUER.
Intended for local development; production tokens come from the identity provider.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		scopes, err := auth.ParseScopes(tokenScopes)
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, tokenSubject, scopes, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "reviewer recorded as approver")
	tokenCmd.Flags().StringVar(&tokenScopes, "scopes", strings.Join(auth.KnownScopes, ","), "comma separated scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}
