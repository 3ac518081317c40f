// Package db persists migration requests, their audit trail and the relay
// transaction journal in PostgreSQL.
package db

import (
	"context"
	"errors"

	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
)

var (
	// ErrMigrationNotFound is returned when a migration lookup finds no matching record.
	ErrMigrationNotFound = errors.New("migration not found")
	// ErrDuplicateMigrationHash is returned when a migration hash is already owned by another request.
	ErrDuplicateMigrationHash = errors.New("migration hash already recorded")
	// ErrActiveOrigin is returned when the origin token already has an unfinished request.
	ErrActiveOrigin = errors.New("origin token already has an unfinished migration")
)

// MigrationStore persists migration requests. Requests are never deleted.
type MigrationStore interface {
	CreateMigration(ctx context.Context, req *migration.Request) error
	// UpdateMigration saves non-state fields of a request.
	UpdateMigration(ctx context.Context, req *migration.Request) error
	// SaveTransition saves the request and appends the transition atomically.
	SaveTransition(ctx context.Context, req *migration.Request, t migration.Transition) error
	GetMigration(ctx context.Context, opts ...QueryOption) (*migration.Request, error)
	ListMigrations(ctx context.Context, opts ...QueryOption) ([]*migration.Request, error)
	ListTransitions(ctx context.Context, requestID string) ([]migration.Transition, error)
	CountByState(ctx context.Context) (map[migration.State]int, error)
}

// TransactionStore is the relay transaction journal.
type TransactionStore interface {
	ethereum.TxJournal
	ListTransactions(ctx context.Context, opts ...QueryOption) ([]ethereum.PendingTransaction, error)
}

// Store defines the persistence used by the relay
type Store interface {
	MigrationStore
	TransactionStore
}

// QueryOptions defines filters for migration and transaction queries
type QueryOptions struct {
	ID            *string
	MigrationHash *string
	States        []migration.State
	Universe      *string
	OriginWorld   *string
	OriginTokenID *string
	TxHash        *string
	MigrationID   *string
	Limit         int
}

// QueryOption is a functional option for queries
type QueryOption func(*QueryOptions)

// WithID sets the request id filter
func WithID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.ID = &id
	}
}

// WithMigrationHash sets the migration hash filter
func WithMigrationHash(hash string) QueryOption {
	return func(opts *QueryOptions) {
		opts.MigrationHash = &hash
	}
}

// WithStates restricts results to the given states
func WithStates(states ...migration.State) QueryOption {
	return func(opts *QueryOptions) {
		opts.States = append(opts.States, states...)
	}
}

// WithUniverse sets the universe filter. For migrations it matches the origin.
func WithUniverse(universe string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Universe = &universe
	}
}

// WithOriginToken matches migrations of one origin token.
func WithOriginToken(universe, world, tokenID string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Universe = &universe
		opts.OriginWorld = &world
		opts.OriginTokenID = &tokenID
	}
}

// WithMigrationID restricts journal entries to one migration.
func WithMigrationID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.MigrationID = &id
	}
}

// WithTxHash sets the transaction hash filter
func WithTxHash(hash string) QueryOption {
	return func(opts *QueryOptions) {
		opts.TxHash = &hash
	}
}

// WithLimit caps the number of rows returned
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = limit
	}
}

func applyOptions(opts []QueryOption) *QueryOptions {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
