// Package cmd defines the opsdesk command tree.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "Multi-tenant operations console backend",
	Long: `opsdesk is the backend for a multi-tenant business operations console.
It owns the session lifecycle (sign-in, sign-out, token refresh), the
tenant directory, the tenant switch protocol, and the per-tenant
permission and feature-flag cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx so commands stop on
// signal-driven cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
