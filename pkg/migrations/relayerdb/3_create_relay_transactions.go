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
		log.Println("creating relay_transactions table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.RelayTransactionDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.RelayTransactionDao{}, "universe", "tx_hash")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping relay_transactions table...")
		return mghelper.DropTables(ctx, db, &dao.RelayTransactionDao{})
	})
}
