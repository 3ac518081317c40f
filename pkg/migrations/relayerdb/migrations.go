// Package relayerdb registers the relay journal schema: migration requests,
// their transition log and the relay transaction journal.
package relayerdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is applied by cmd/relayer/migrate and by the store tests.
var Migrations = migrate.NewMigrations()
