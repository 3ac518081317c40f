package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// MigrationTransitionDao is an append-only audit row for one state change of a migration.
type MigrationTransitionDao struct {
	bun.BaseModel `bun:"table:migration_transitions,alias:mt"`
	ID            int64     `json:"id" bun:"id,pk,autoincrement"`
	RequestID     string    `json:"request_id" bun:"request_id,notnull,type:uuid"`
	FromState     string    `json:"from_state" bun:"from_state,notnull,type:varchar(32)"`
	ToState       string    `json:"to_state" bun:"to_state,notnull,type:varchar(32)"`
	Reason        *string   `json:"reason,omitempty" bun:"reason,type:text"`
	CreatedAt     time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
