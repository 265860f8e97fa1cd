package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fincasdesk/platform/internal/shared/auth"
	"github.com/fincasdesk/platform/internal/shared/config"
)

var (
	tokenSubject string
	tokenName    string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API bearer token",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "user id recorded as actor on case events")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{"admin"}, "roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := auth.IssueToken(cfg.Auth.JWTSecret, tokenSubject, tokenName, tokenRoles, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
