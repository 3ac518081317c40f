// Package migrations holds the schema helpers used by the relay database
// migrations and the command driving them.
package migrations

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

const usageText = `Usage:
  go run cmd/relayer/migrate/main.go [-config file] <command>

Commands:
  init    create the bun_migrations bookkeeping tables
  up      apply every pending migration
  down    roll back the last migration group
  status  list applied and pending migrations
`

// Usage prints command usage and exits.
func Usage() {
	fmt.Fprint(os.Stderr, usageText)
	flag.PrintDefaults()
	os.Exit(2)
}

// Exitf prints the message followed by usage and exits.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	Usage()
}

// CreateSchema creates the table of every model if it does not exist yet.
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// DropTables drops the table of every model, cascading to dependent objects.
func DropTables(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", model, err)
		}
	}
	return nil
}

// CreateModelIndexes creates one index per column on the model's table,
// named idx_<table>_<column>.
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	for _, column := range columns {
		name, err := IndexName(db, model, column)
		if err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().Model(model).Index(name).Column(column).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

// AddColumns adds each "name type" column definition to the model's table
// unless it is already there.
func AddColumns(ctx context.Context, db bun.IDB, model any, defs ...string) error {
	for _, def := range defs {
		if _, err := db.NewAddColumn().Model(model).ColumnExpr(def).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("add column %q: %w", def, err)
		}
	}
	return nil
}

// DropColumns removes columns from the model's table.
func DropColumns(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	for _, column := range columns {
		if _, err := db.NewDropColumn().Model(model).Column(column).Exec(ctx); err != nil {
			return fmt.Errorf("drop column %s: %w", column, err)
		}
	}
	return nil
}

// IndexName returns the index name CreateModelIndexes uses for column.
func IndexName(db bun.IDB, model any, column string) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model cannot be nil")
	}
	table := db.NewCreateIndex().Model(model).GetTableName()
	if table == "" {
		return "", fmt.Errorf("failed to resolve table name for model %T", model)
	}
	table = strings.NewReplacer(`"`, "", ".", "_").Replace(table)
	return fmt.Sprintf("idx_%s_%s", table, column), nil
}

// RunMigrations executes a single migrate command against migrator.
func RunMigrations(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger, args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command provided")
	}

	switch args[0] {
	case "init":
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		logger.Info("Migration tables created")
		return nil

	case "up":
		return withLock(ctx, migrator, logger, func() error {
			group, err := migrator.Migrate(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				logger.Info("Database is up to date")
				return nil
			}
			logger.Info("Migrated", zap.String("group", group.String()))
			return nil
		})

	case "down":
		return withLock(ctx, migrator, logger, func() error {
			group, err := migrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				logger.Info("No migrations to roll back")
				return nil
			}
			logger.Info("Rolled back", zap.String("group", group.String()))
			return nil
		})

	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}
		logger.Info("Migration status",
			zap.Stringer("migrations", ms),
			zap.Stringer("unapplied", ms.Unapplied()),
			zap.Stringer("last_group", ms.LastGroup()))
		return nil

	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func withLock(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger, fn func() error) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Warn("Failed to release migration lock", zap.Error(err))
		}
	}()
	return fn()
}
