package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/observability"
	"github.com/spec-kit/permit-service/internal/persistence"
)

func migrateCmd() *cobra.Command {
	var (
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations to POSTGRES_DSN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Postgres.MigrationsDir
			}

			if dryRun {
				files, err := persistence.MigrationFiles(dir)
				if err != nil {
					return err
				}
				for _, file := range files {
					fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(file))
				}
				return nil
			}

			if cfg.Postgres.DSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := context.Background()
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), dir, logger); err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("dir", dir))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list migration files without applying them")
	return cmd
}
