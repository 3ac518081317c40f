package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// ActiveOriginIndex keeps a single unfinished request per origin token.
const ActiveOriginIndex = "uq_migration_requests_active_origin"

// TxBroadcastDao is the jsonb form of the transactions sent for one step.
// The *_tx_hash columns mirror the latest hash for lookups.
type TxBroadcastDao struct {
	Nonce  *uint64  `json:"nonce,omitempty"`
	Hashes []string `json:"hashes"`
}

// MigrationRequestDao is a data access object that maps directly to the 'migration_requests' table in PostgreSQL.
type MigrationRequestDao struct {
	bun.BaseModel       `bun:"table:migration_requests,alias:mr"`
	ID                  string          `json:"id" bun:"id,pk,type:uuid"`
	Type                string          `json:"type" bun:"type,notnull,type:varchar(16)"`
	OriginUniverse      string          `json:"origin_universe" bun:"origin_universe,notnull,type:varchar(64)"`
	OriginWorld         string          `json:"origin_world" bun:"origin_world,notnull,type:varchar(66)"`
	OriginTokenID       string          `json:"origin_token_id" bun:"origin_token_id,notnull,type:varchar(78)"`
	OriginOwner         string          `json:"origin_owner" bun:"origin_owner,notnull,type:varchar(66)"`
	DestinationUniverse string          `json:"destination_universe" bun:"destination_universe,notnull,type:varchar(64)"`
	DestinationBridge   string          `json:"destination_bridge" bun:"destination_bridge,notnull,type:varchar(66)"`
	DestinationWorld    string          `json:"destination_world" bun:"destination_world,notnull,type:varchar(66)"`
	DestinationTokenID  *string         `json:"destination_token_id,omitempty" bun:"destination_token_id,type:varchar(78)"`
	DestinationOwner    string          `json:"destination_owner" bun:"destination_owner,notnull,type:varchar(66)"`
	MigrationHash       *string         `json:"migration_hash,omitempty" bun:"migration_hash,unique,type:varchar(66)"`
	EscrowHash          *string         `json:"escrow_hash,omitempty" bun:"escrow_hash,type:varchar(66)"`
	Signature           *string         `json:"signature,omitempty" bun:"signature,type:varchar(132)"`
	BlockTimestamp      *int64          `json:"block_timestamp,omitempty" bun:"block_timestamp"`
	DepartureTxHash     *string         `json:"departure_tx_hash,omitempty" bun:"departure_tx_hash,type:varchar(66)"`
	RegistrationTxHash  *string         `json:"registration_tx_hash,omitempty" bun:"registration_tx_hash,type:varchar(66)"`
	ArrivalTxHash       *string         `json:"arrival_tx_hash,omitempty" bun:"arrival_tx_hash,type:varchar(66)"`
	PremintTxs          *TxBroadcastDao `json:"premint_txs,omitempty" bun:"premint_txs,type:jsonb"`
	DepartureTxs        *TxBroadcastDao `json:"departure_txs,omitempty" bun:"departure_txs,type:jsonb"`
	RegistrationTxs     *TxBroadcastDao `json:"registration_txs,omitempty" bun:"registration_txs,type:jsonb"`
	ArrivalTxs          *TxBroadcastDao `json:"arrival_txs,omitempty" bun:"arrival_txs,type:jsonb"`
	State               string          `json:"state" bun:"state,notnull,type:varchar(32)"`
	LastState           *string         `json:"last_state,omitempty" bun:"last_state,type:varchar(32)"`
	FailureReason       *string         `json:"failure_reason,omitempty" bun:"failure_reason,type:text"`
	CreatedAt           time.Time       `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time       `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
