package migrations

import (
	"context"
	"testing"

	"github.com/chainsafe/nft-migration-relay/pkg/migrations/relayerdb"
	"github.com/chainsafe/nft-migration-relay/pkg/pgutil"
	"github.com/uptrace/bun/migrate"
)

func TestRelayerDBMigrations_Apply(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)

	// Initialize migration system
	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	// Run all migrations up
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected migrations to run, but none were applied")
	}

	expectedTables := []string{
		"migration_requests",
		"migration_transitions",
		"relay_transactions",
		"bun_migrations",
	}
	for _, table := range expectedTables {
		pgutil.AssertTableExists(t, db, table)
	}

	pgutil.AssertIndexExists(t, db, "idx_migration_requests_state")
	pgutil.AssertIndexExists(t, db, "idx_migration_requests_origin_universe")
	pgutil.AssertIndexExists(t, db, "idx_migration_requests_departure_tx_hash")
	pgutil.AssertIndexExists(t, db, "idx_migration_transitions_request_id")
	pgutil.AssertIndexExists(t, db, "idx_relay_transactions_universe")
	pgutil.AssertIndexExists(t, db, "idx_relay_transactions_tx_hash")
}

func TestMigrations_Idempotency(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("First Migrate() failed: %v", err)
	}

	// Second run must be a no-op
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}

	pgutil.AssertTableExists(t, db, "migration_requests")
}

func TestMigrations_Rollback(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	// All migrations run in one group, so a rollback drops every table
	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	pgutil.AssertTableNotExists(t, db, "relay_transactions")
	pgutil.AssertTableNotExists(t, db, "migration_transitions")
	pgutil.AssertTableNotExists(t, db, "migration_requests")
}

func TestMigrationHash_Unique(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	var hasConstraint bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pg_constraint
			WHERE contype = 'u'
			AND conrelid = 'migration_requests'::regclass
		)
	`
	if err := db.NewRaw(query).Scan(ctx, &hasConstraint); err != nil {
		t.Fatalf("Failed to check constraint: %v", err)
	}
	if !hasConstraint {
		t.Error("migration_requests has no unique constraint on migration_hash")
	}
}
