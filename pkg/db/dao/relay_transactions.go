package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// RelayTransactionDao journals every status change of a transaction sent from
// the relay account. Each change is a new row; migration_id links the rows of
// a migration step.
type RelayTransactionDao struct {
	bun.BaseModel `bun:"table:relay_transactions,alias:rt"`
	ID            int64     `json:"id" bun:"id,pk,autoincrement"`
	Universe      string    `json:"universe" bun:"universe,notnull,type:varchar(64)"`
	Label         string    `json:"label" bun:"label,notnull,type:varchar(64)"`
	MigrationID   *string   `json:"migration_id,omitempty" bun:"migration_id,type:varchar(64)"`
	Nonce         *int64    `json:"nonce,omitempty" bun:"nonce"`
	ToAddress     string    `json:"to_address" bun:"to_address,notnull,type:varchar(42)"`
	Data          []byte    `json:"data" bun:"data,type:bytea"`
	Gas           int64     `json:"gas" bun:"gas,notnull"`
	GasPrice      string    `json:"gas_price" bun:"gas_price,notnull,type:numeric(78,0)"`
	TxHash        *string   `json:"tx_hash,omitempty" bun:"tx_hash,type:varchar(66)"`
	Attempt       int       `json:"attempt" bun:"attempt,notnull,use_zero"`
	Status        string    `json:"status" bun:"status,notnull,type:varchar(16)"`
	Reason        *string   `json:"reason,omitempty" bun:"reason,type:text"`
	CreatedAt     time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
