package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root sembalun-guard command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sembalun-guard",
		Short: "Login throttling, session security and security audit service",
		Long: `sembalun-guard fronts authentication with per-account and per-address
rate limits, idle and absolute session expiry, and a security audit log.

Configuration is read from the environment (and a .env file when present).`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
	)

	return root
}

// newLogger builds the JSON slog logger used by every command
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
