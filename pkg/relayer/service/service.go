// Package service exposes the relay over HTTP: the frontend query calls and
// the migration API.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	apperrors "github.com/chainsafe/nft-migration-relay/pkg/app/errors"
	"github.com/chainsafe/nft-migration-relay/pkg/codec"
	"github.com/chainsafe/nft-migration-relay/pkg/db"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
	"github.com/chainsafe/nft-migration-relay/pkg/relayer"
	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service defines the interface for the relay HTTP surface.
type Service interface {
	GetAvailableWorlds(ctx context.Context, universeID string) ([]string, error)
	GetAvailableTokenID(ctx context.Context, universeID, world string) (string, error)
	GetTokenURI(ctx context.Context, universeID, world, tokenID string) (string, error)

	SubmitMigration(ctx context.Context, in relayer.SubmitRequest) (*migration.Request, error)
	// GetMigration accepts a request id or a migration hash.
	GetMigration(ctx context.Context, ref string) (*migration.Request, error)
	ListMigrations(ctx context.Context, state string, limit int) ([]*migration.Request, error)
	ListTransitions(ctx context.Context, ref string) ([]migration.Transition, error)
	RetryMigration(ctx context.Context, id string) (*migration.Request, error)
	ListTransactions(ctx context.Context, filter TransactionFilter, limit int) ([]ethereum.PendingTransaction, error)
}

// Engine is the part of the relayer engine the API drives.
type Engine interface {
	Submit(ctx context.Context, in relayer.SubmitRequest) (*migration.Request, error)
	Retry(ctx context.Context, id string) (*migration.Request, error)
}

type service struct {
	engine   Engine
	query    relayer.QueryService
	store    db.Store
	limiter  *rate.Limiter
	validate *validator.Validate
}

// NewService creates a relay Service. A nil limiter disables premint throttling.
func NewService(engine Engine, query relayer.QueryService, store db.Store, limiter *rate.Limiter) Service {
	return &service{
		engine:   engine,
		query:    query,
		store:    store,
		limiter:  limiter,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewPremintLimiter allows perMinute premints on average with the given burst.
func NewPremintLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
}

func (s *service) GetAvailableWorlds(ctx context.Context, universeID string) ([]string, error) {
	worlds, err := s.query.GetAvailableWorlds(ctx, universeID)
	if err != nil {
		return nil, mapError(err)
	}
	return worlds, nil
}

func (s *service) GetAvailableTokenID(ctx context.Context, universeID, world string) (string, error) {
	if err := s.allowPremint(); err != nil {
		return "", err
	}
	tokenID, err := s.query.GetAvailableTokenID(ctx, universeID, world)
	if err != nil {
		return "", mapError(err)
	}
	return tokenID, nil
}

func (s *service) allowPremint() error {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.RateLimited.Inc()
		return apperrors.TooManyRequestsError(nil, "Too many requests")
	}
	return nil
}

func (s *service) GetTokenURI(ctx context.Context, universeID, world, tokenID string) (string, error) {
	uri, err := s.query.GetTokenURI(ctx, universeID, world, tokenID)
	if err != nil {
		return "", mapError(err)
	}
	return uri, nil
}

func (s *service) SubmitMigration(ctx context.Context, in relayer.SubmitRequest) (*migration.Request, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperrors.BadRequestError(err, validationMessage(err))
	}
	// Without a destination token the migration premints an IOU.
	if in.Type == migration.TypeMintIOU && in.DestinationTokenID == "" {
		if err := s.allowPremint(); err != nil {
			return nil, err
		}
	}
	req, err := s.engine.Submit(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

func (s *service) GetMigration(ctx context.Context, ref string) (*migration.Request, error) {
	req, err := s.store.GetMigration(ctx, db.WithID(ref))
	if errors.Is(err, db.ErrMigrationNotFound) {
		req, err = s.store.GetMigration(ctx, db.WithMigrationHash(ref))
	}
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

func (s *service) ListMigrations(ctx context.Context, state string, limit int) ([]*migration.Request, error) {
	opts := []db.QueryOption{db.WithLimit(clampLimit(limit))}
	if state != "" {
		st, err := migration.ParseState(state)
		if err != nil {
			return nil, apperrors.BadRequestError(err, err.Error())
		}
		opts = append(opts, db.WithStates(st))
	}
	reqs, err := s.store.ListMigrations(ctx, opts...)
	if err != nil {
		return nil, mapError(err)
	}
	return reqs, nil
}

func (s *service) ListTransitions(ctx context.Context, ref string) ([]migration.Transition, error) {
	req, err := s.GetMigration(ctx, ref)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, req.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return transitions, nil
}

func (s *service) RetryMigration(ctx context.Context, id string) (*migration.Request, error) {
	req, err := s.engine.Retry(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

// TransactionFilter narrows the transaction journal. Empty fields match
// everything.
type TransactionFilter struct {
	Universe    string
	TxHash      string
	MigrationID string
}

func (s *service) ListTransactions(ctx context.Context, filter TransactionFilter, limit int) ([]ethereum.PendingTransaction, error) {
	opts := []db.QueryOption{db.WithLimit(clampLimit(limit))}
	if filter.Universe != "" {
		opts = append(opts, db.WithUniverse(filter.Universe))
	}
	if filter.TxHash != "" {
		opts = append(opts, db.WithTxHash(filter.TxHash))
	}
	if filter.MigrationID != "" {
		opts = append(opts, db.WithMigrationID(filter.MigrationID))
	}
	txs, err := s.store.ListTransactions(ctx, opts...)
	if err != nil {
		return nil, mapError(err)
	}
	return txs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("invalid field %s: failed %s", f.Field(), f.Tag())
	}
	return "invalid request"
}

// mapError converts domain errors into service errors with a client facing
// message. Anything unrecognised becomes a general error.
func mapError(err error) error {
	var svcErr *apperrors.ServiceError
	switch {
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, relayer.ErrInvalidRequest),
		errors.Is(err, relayer.ErrUnreachableTarget),
		errors.Is(err, relayer.ErrNotERC721),
		errors.Is(err, universe.ErrUnknownUniverse),
		errors.Is(err, codec.ErrInvalidTokenID):
		return apperrors.BadRequestError(err, err.Error())
	case errors.Is(err, relayer.ErrNotOwner):
		return apperrors.ForbiddenError(err, err.Error())
	case errors.Is(err, db.ErrMigrationNotFound):
		return apperrors.ResourceNotFoundError(err, "migration not found")
	case errors.Is(err, relayer.ErrAlreadyCompleted),
		errors.Is(err, relayer.ErrInProgress),
		errors.Is(err, migration.ErrNotFailed),
		errors.Is(err, db.ErrDuplicateMigrationHash),
		errors.Is(err, db.ErrActiveOrigin):
		return apperrors.ConflictError(err, err.Error())
	case errors.Is(err, relayer.ErrEngineNotReady):
		return apperrors.UnavailableError(err, "relay is starting")
	case errors.Is(err, ethereum.ErrChainUnreachable),
		errors.Is(err, ethereum.ErrTransactionFailed),
		errors.Is(err, relayer.ErrTxPending):
		return apperrors.DependencyFailureError(err, err.Error())
	default:
		return apperrors.GeneralError(err)
	}
}
