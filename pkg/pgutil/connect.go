package pgutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
)

const dialTimeout = 5 * time.Second

// ConnectDB creates a connection to the specified database
func ConnectDB(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	// Build connector using functional options to properly escape special characters
	connector := pgdriver.NewConnector(
		pgdriver.WithNetwork("tcp"),
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithInsecure(cfg.SSLMode == "" || cfg.SSLMode == "disable"),
		pgdriver.WithDialTimeout(dialTimeout),
		pgdriver.WithApplicationName("nft-migration-relay"),
	)

	db := bun.NewDB(sql.OpenDB(connector), pgdialect.New())

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close() // Close connection to prevent resource leak
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Database, err)
	}
	return db, nil
}
