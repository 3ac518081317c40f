package pgutil

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/migrations/relayerdb"
)

const (
	testImage    = "postgres:15-alpine"
	testDatabase = "relay_test"
	testUser     = "relay"
	testPassword = "relay"
)

// RequireDocker skips the test when no docker daemon is reachable.
func RequireDocker(t *testing.T) {
	t.Helper()

	if os.Getenv("DOCKER_HOST") != "" {
		return
	}
	for _, sock := range []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	} {
		conn, err := (&net.Dialer{Timeout: time.Second}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}
	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed tests")
}

// SetupTestDB starts a throwaway postgres container and connects to it.
// The returned cleanup closes the connection and terminates the container.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx, testImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	terminate := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		t.Fatalf("failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     testUser,
		Password: testPassword,
		Database: testDatabase,
		SSLMode:  "disable",
	}

	// The port can accept connections shortly before postgres does.
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second
	db, err := backoff.RetryWithData(func() (*bun.DB, error) {
		return ConnectDB(ctx, cfg)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		terminate()
		t.Fatalf("failed to connect to test database: %v", err)
	}

	return db, func() {
		_ = db.Close()
		terminate()
	}
}

// SetupRelayDB is SetupTestDB with the relay schema applied. Cleanup is
// registered on t.
func SetupRelayDB(t *testing.T) *bun.DB {
	t.Helper()

	db, cleanup := SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("failed to init migrations: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate relay schema: %v", err)
	}
	return db
}

func tableExists(t *testing.T, db *bun.DB, table string) bool {
	t.Helper()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)", "public", table).
		Scan(context.Background(), &exists)
	if err != nil {
		t.Fatalf("failed to check if table %s exists: %v", table, err)
	}
	return exists
}

// AssertTableExists fails the test if table is missing.
func AssertTableExists(t *testing.T, db *bun.DB, table string) {
	t.Helper()
	if !tableExists(t, db, table) {
		t.Errorf("table %s does not exist", table)
	}
}

// AssertTableNotExists fails the test if table is present.
func AssertTableNotExists(t *testing.T, db *bun.DB, table string) {
	t.Helper()
	if tableExists(t, db, table) {
		t.Errorf("table %s should not exist but it does", table)
	}
}

// AssertIndexExists fails the test if the named index is missing.
func AssertIndexExists(t *testing.T, db *bun.DB, index string) {
	t.Helper()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = ? AND indexname = ?)", "public", index).
		Scan(context.Background(), &exists)
	if err != nil {
		t.Fatalf("failed to check if index %s exists: %v", index, err)
	}
	if !exists {
		t.Errorf("index %s does not exist", index)
	}
}

// AssertRowCount fails the test unless table holds exactly expected rows.
func AssertRowCount(t *testing.T, db *bun.DB, table string, expected int) {
	t.Helper()

	var count int
	err := db.NewSelect().
		TableExpr("?", bun.Ident(table)).
		ColumnExpr("COUNT(*)").
		Scan(context.Background(), &count)
	if err != nil {
		t.Fatalf("failed to count rows in table %s: %v", table, err)
	}
	if count != expected {
		t.Errorf("table %s: expected %d rows, got %d", table, expected, count)
	}
}
