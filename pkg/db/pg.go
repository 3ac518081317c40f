package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/nft-migration-relay/pkg/db/dao"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
)

const uniqueViolation = "23505"

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the relay store
func NewStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

// uniqueError maps a unique violation to the store error of the violated
// constraint, nil for any other error.
func uniqueError(err error) error {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) || pgErr.Field('C') != uniqueViolation {
		return nil
	}
	if pgErr.Field('n') == dao.ActiveOriginIndex {
		return ErrActiveOrigin
	}
	return ErrDuplicateMigrationHash
}

func (s *pgStore) CreateMigration(ctx context.Context, req *migration.Request) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toRequestDao(req)).Exec(ctx); err != nil {
			if uerr := uniqueError(err); uerr != nil {
				return uerr
			}
			return fmt.Errorf("failed to create migration: %w", err)
		}
		created := migration.Transition{RequestID: req.ID, From: "", To: req.State, At: now}
		if _, err := tx.NewInsert().Model(toTransitionDao(created)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

func (s *pgStore) UpdateMigration(ctx context.Context, req *migration.Request) error {
	return s.update(ctx, s.db, req)
}

func (s *pgStore) update(ctx context.Context, db bun.IDB, req *migration.Request) error {
	req.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().
		Model(toRequestDao(req)).
		ExcludeColumn("id", "created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if uerr := uniqueError(err); uerr != nil {
			return uerr
		}
		return fmt.Errorf("failed to update migration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMigrationNotFound
	}
	return nil
}

func (s *pgStore) SaveTransition(ctx context.Context, req *migration.Request, t migration.Transition) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.update(ctx, tx, req); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(toTransitionDao(t)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

func (s *pgStore) GetMigration(ctx context.Context, opts ...QueryOption) (*migration.Request, error) {
	options := applyOptions(opts)

	d := new(dao.MigrationRequestDao)
	query := s.db.NewSelect().Model(d)
	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.MigrationHash != nil {
		query = query.Where("migration_hash = ?", *options.MigrationHash)
	}

	if err := query.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMigrationNotFound
		}
		return nil, fmt.Errorf("failed to get migration: %w", err)
	}
	return toRequest(d), nil
}

func (s *pgStore) ListMigrations(ctx context.Context, opts ...QueryOption) ([]*migration.Request, error) {
	options := applyOptions(opts)

	var daos []dao.MigrationRequestDao
	query := s.db.NewSelect().Model(&daos).Order("created_at ASC")
	if len(options.States) > 0 {
		states := make([]string, len(options.States))
		for i, st := range options.States {
			states[i] = string(st)
		}
		query = query.Where("state IN (?)", bun.In(states))
	}
	if options.Universe != nil {
		query = query.Where("origin_universe = ?", *options.Universe)
	}
	if options.OriginWorld != nil {
		query = query.Where("origin_world = ?", *options.OriginWorld)
	}
	if options.OriginTokenID != nil {
		query = query.Where("origin_token_id = ?", *options.OriginTokenID)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	reqs := make([]*migration.Request, len(daos))
	for i := range daos {
		reqs[i] = toRequest(&daos[i])
	}
	return reqs, nil
}

func (s *pgStore) ListTransitions(ctx context.Context, requestID string) ([]migration.Transition, error) {
	var daos []dao.MigrationTransitionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	out := make([]migration.Transition, len(daos))
	for i := range daos {
		out[i] = toTransition(&daos[i])
	}
	return out, nil
}

func (s *pgStore) CountByState(ctx context.Context) (map[migration.State]int, error) {
	var rows []struct {
		State string `bun:"state"`
		Count int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*dao.MigrationRequestDao)(nil)).
		Column("state").
		ColumnExpr("COUNT(*) AS count").
		Group("state").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to count migrations: %w", err)
	}
	counts := make(map[migration.State]int, len(rows))
	for _, r := range rows {
		counts[migration.State(r.State)] = r.Count
	}
	return counts, nil
}

func (s *pgStore) RecordTransaction(ctx context.Context, tx ethereum.PendingTransaction) error {
	if _, err := s.db.NewInsert().Model(toTransactionDao(tx)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (s *pgStore) ListTransactions(ctx context.Context, opts ...QueryOption) ([]ethereum.PendingTransaction, error) {
	options := applyOptions(opts)

	var daos []dao.RelayTransactionDao
	query := s.db.NewSelect().Model(&daos).Order("id DESC")
	if options.Universe != nil {
		query = query.Where("universe = ?", *options.Universe)
	}
	if options.TxHash != nil {
		query = query.Where("tx_hash = ?", *options.TxHash)
	}
	if options.MigrationID != nil {
		query = query.Where("migration_id = ?", *options.MigrationID)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]ethereum.PendingTransaction, len(daos))
	for i := range daos {
		out[i] = toTransaction(&daos[i])
	}
	return out, nil
}
