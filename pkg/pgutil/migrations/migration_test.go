package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/db/dao"
	"github.com/chainsafe/nft-migration-relay/pkg/migrations/relayerdb"
	"github.com/chainsafe/nft-migration-relay/pkg/pgutil"
	mghelper "github.com/chainsafe/nft-migration-relay/pkg/pgutil/migrations"
)

func TestConnectDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     5432,
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
	}

	db, err := pgutil.ConnectDB(context.Background(), cfg)
	if err == nil {
		db.Close()
		t.Error("ConnectDB() should fail with invalid host")
	}
}

func TestIndexName(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	name, err := mghelper.IndexName(db, &dao.MigrationRequestDao{}, "state")
	require.NoError(t, err)
	assert.Equal(t, "idx_migration_requests_state", name)

	_, err = mghelper.IndexName(db, nil, "state")
	assert.Error(t, err)
}

func TestCreateSchemaAndDropTables(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, mghelper.CreateSchema(ctx, db, &dao.MigrationRequestDao{}, &dao.MigrationTransitionDao{}))
	pgutil.AssertTableExists(t, db, "migration_requests")
	pgutil.AssertTableExists(t, db, "migration_transitions")

	// Second call is a no-op.
	require.NoError(t, mghelper.CreateSchema(ctx, db, &dao.MigrationRequestDao{}))

	require.NoError(t, mghelper.DropTables(ctx, db, &dao.MigrationTransitionDao{}, &dao.MigrationRequestDao{}))
	pgutil.AssertTableNotExists(t, db, "migration_requests")
	pgutil.AssertTableNotExists(t, db, "migration_transitions")

	require.NoError(t, mghelper.DropTables(ctx, db, &dao.MigrationRequestDao{}))
}

func TestCreateModelIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, mghelper.CreateSchema(ctx, db, &dao.RelayTransactionDao{}))
	require.NoError(t, mghelper.CreateModelIndexes(ctx, db, &dao.RelayTransactionDao{}, "universe", "tx_hash"))
	require.NoError(t, mghelper.CreateModelIndexes(ctx, db, &dao.RelayTransactionDao{}, "universe"))

	pgutil.AssertIndexExists(t, db, "idx_relay_transactions_universe")
	pgutil.AssertIndexExists(t, db, "idx_relay_transactions_tx_hash")
}

func TestRunMigrations_Commands(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	logger := zap.NewNop()

	require.NoError(t, mghelper.RunMigrations(ctx, migrator, logger, "init"))
	require.NoError(t, mghelper.RunMigrations(ctx, migrator, logger, "up"))
	pgutil.AssertTableExists(t, db, "relay_transactions")
	pgutil.AssertRowCount(t, db, "bun_migrations", 4)
	pgutil.AssertIndexExists(t, db, "idx_relay_transactions_migration_id")
	pgutil.AssertIndexExists(t, db, dao.ActiveOriginIndex)

	require.NoError(t, mghelper.RunMigrations(ctx, migrator, logger, "status"))
	require.NoError(t, mghelper.RunMigrations(ctx, migrator, logger, "up"))

	require.NoError(t, mghelper.RunMigrations(ctx, migrator, logger, "down"))
	pgutil.AssertTableNotExists(t, db, "relay_transactions")

	assert.ErrorContains(t, mghelper.RunMigrations(ctx, migrator, logger, "sideways"), "unknown command")
	assert.ErrorContains(t, mghelper.RunMigrations(ctx, migrator, logger), "no command")
}
