package main

import (
	"context"
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/migrations/relayerdb"
	"github.com/chainsafe/nft-migration-relay/pkg/pgutil"
	mghelper "github.com/chainsafe/nft-migration-relay/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	if flag.NArg() == 0 {
		mghelper.Exitf("no command provided")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("error creating logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	db, err := pgutil.ConnectDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Running relay database migrations",
		zap.String("database", cfg.Database.Database),
		zap.String("command", flag.Arg(0)))

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)
	if err := mghelper.RunMigrations(ctx, migrator, logger, flag.Args()...); err != nil {
		logger.Error("Migration failed", zap.Error(err))
		mghelper.Exitf(err.Error())
	}
}
