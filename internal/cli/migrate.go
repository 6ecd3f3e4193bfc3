package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sembalun/guard/internal/config"
	"github.com/sembalun/guard/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Example: `  sembalun-guard migrate
  sembalun-guard migrate --timeout 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger := newLogger(cfg.Server.LogLevel)

			db, err := database.NewConnection(&cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return db.Migrate(ctx)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "maximum time to spend applying migrations")

	return cmd
}
