// Package cli wires configuration, providers, state, and the engine
// into the terrapin command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "terrapin",
	Short: "Declarative infrastructure provisioning",
	Long: `Terrapin reconciles declared infrastructure against what was last
applied. A run computes a reviewable plan from the difference, then
executes it in dependency order with a bounded worker pool.

State is the system's own record of what it applied, guarded by an
exclusive lock and per-record serials. Provider versions are resolved
against declared constraints and pinned in a lock file for
reproducible runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logLevel, logFormat)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a cancellable context, so
// an interrupt reaches every command through cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(versionCmd)
}
