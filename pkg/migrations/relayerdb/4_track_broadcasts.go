package relayerdb

import (
	"context"
	"log"

	"github.com/chainsafe/nft-migration-relay/pkg/db/dao"
	mghelper "github.com/chainsafe/nft-migration-relay/pkg/pgutil/migrations"

	"github.com/uptrace/bun"
)

var broadcastColumns = []string{"premint_txs", "departure_txs", "registration_txs", "arrival_txs"}

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("tracking every broadcast of a migration step...")
		defs := make([]string, len(broadcastColumns))
		for i, c := range broadcastColumns {
			defs[i] = c + " jsonb"
		}
		if err := mghelper.AddColumns(ctx, db, &dao.MigrationRequestDao{}, defs...); err != nil {
			return err
		}
		if err := mghelper.AddColumns(ctx, db, &dao.RelayTransactionDao{}, "migration_id varchar(64)"); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &dao.RelayTransactionDao{}, "migration_id"); err != nil {
			return err
		}

		log.Println("limiting origin tokens to one unfinished migration...")
		_, err := db.NewCreateIndex().
			Model((*dao.MigrationRequestDao)(nil)).
			Index(dao.ActiveOriginIndex).
			Unique().
			Column("origin_universe", "origin_world", "origin_token_id").
			Where("state NOT IN (?)", bun.In([]string{"completed", "failed"})).
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping broadcast tracking...")
		if _, err := db.NewDropIndex().Index(dao.ActiveOriginIndex).IfExists().Exec(ctx); err != nil {
			return err
		}
		if err := mghelper.DropColumns(ctx, db, &dao.RelayTransactionDao{}, "migration_id"); err != nil {
			return err
		}
		return mghelper.DropColumns(ctx, db, &dao.MigrationRequestDao{}, broadcastColumns...)
	})
}
