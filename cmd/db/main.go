package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/searchparty/beacon/internal/database"
	"github.com/searchparty/beacon/internal/database/migrations"
	"github.com/searchparty/beacon/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var errMigrationName = errors.New("migration name required")

func main() {
	cmd := &cli.Command{
		Name:  "db",
		Usage: "Manage the beacon database schema",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending schema migrations",
				Action: withSchema(applyMigrations),
			},
			{
				Name:   "rollback",
				Usage:  "Undo the most recent migration group",
				Action: withSchema(rollbackMigrations),
			},
			{
				Name:   "status",
				Usage:  "Report applied and pending migrations",
				Action: withSchema(reportStatus),
			},
			{
				Name:      "create",
				Usage:     "Scaffold a new Go migration",
				ArgsUsage: "NAME",
				Action:    withSchema(createMigration),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

// schemaAction is one db subcommand operating on an open migrator.
type schemaAction func(ctx context.Context, c *cli.Command, m *migrate.Migrator, logger *zap.Logger) error

// withSchema opens the database for the duration of one subcommand and
// tears it down afterwards.
func withSchema(action schemaAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, _, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, logger, false)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return action(ctx, c, migrate.NewMigrator(db.DB(), migrations.Migrations), logger)
	}
}

// applyMigrations initializes the migration tables when absent and applies
// everything pending.
func applyMigrations(ctx context.Context, _ *cli.Command, m *migrate.Migrator, logger *zap.Logger) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("failed to prepare migration tables: %w", err)
	}

	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock(ctx) //nolint:errcheck

	group, err := m.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("Schema already up to date")
		return nil
	}

	logger.Info("Applied migration group", zap.String("group", group.String()))

	return nil
}

func rollbackMigrations(ctx context.Context, _ *cli.Command, m *migrate.Migrator, logger *zap.Logger) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock(ctx) //nolint:errcheck

	group, err := m.Rollback(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("Nothing to roll back")
		return nil
	}

	logger.Info("Rolled back migration group", zap.String("group", group.String()))

	return nil
}

func reportStatus(ctx context.Context, _ *cli.Command, m *migrate.Migrator, logger *zap.Logger) error {
	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}

	logger.Info("Schema status",
		zap.Int("applied", len(ms.Applied())),
		zap.Int("pending", len(ms.Unapplied())),
		zap.String("pendingMigrations", ms.Unapplied().String()),
		zap.String("lastGroup", ms.LastGroup().String()))

	return nil
}

func createMigration(ctx context.Context, c *cli.Command, m *migrate.Migrator, logger *zap.Logger) error {
	if c.Args().Len() != 1 {
		return errMigrationName
	}

	mf, err := m.CreateGoMigration(ctx, c.Args().First())
	if err != nil {
		return err
	}

	logger.Info("Created migration",
		zap.String("name", mf.Name),
		zap.String("path", mf.Path))

	return nil
}
