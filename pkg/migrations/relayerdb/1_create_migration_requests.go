package relayerdb

import (
	"context"
	"log"

	"github.com/chainsafe/nft-migration-relay/pkg/db/dao"
	mghelper "github.com/chainsafe/nft-migration-relay/pkg/pgutil/migrations"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating migration_requests table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.MigrationRequestDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.MigrationRequestDao{}, "state", "origin_universe", "departure_tx_hash")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping migration_requests table...")
		return mghelper.DropTables(ctx, db, &dao.MigrationRequestDao{})
	})
}
