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
		log.Println("creating migration_transitions table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.MigrationTransitionDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.MigrationTransitionDao{}, "request_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping migration_transitions table...")
		return mghelper.DropTables(ctx, db, &dao.MigrationTransitionDao{})
	})
}
