package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/db"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
)

const defaultReconcileInterval = 5 * time.Minute

// ErrEngineNotReady is returned while the engine is starting or stopping.
var ErrEngineNotReady = errors.New("relayer engine not ready")

var inFlightStates = []migration.State{
	migration.StateInitiated,
	migration.StateDepartureRegistered,
	migration.StateEscrowProofObtained,
	migration.StateEscrowSigned,
	migration.StateSignatureRegistered,
	migration.StateArrivalRedeemed,
}

// Executor drives single migration requests.
type Executor interface {
	Submit(ctx context.Context, in SubmitRequest) (*migration.Request, error)
	Retry(ctx context.Context, id string) (*migration.Request, error)
	Execute(ctx context.Context, req *migration.Request) error
}

// Engine runs migrations in the background, resumes unfinished ones after a
// restart and periodically reconciles the journal.
type Engine struct {
	config   config.EngineConfig
	executor Executor
	store    db.MigrationStore
	chains   Chains
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	wg     sync.WaitGroup
}

// NewEngine creates a new relayer engine
func NewEngine(cfg config.EngineConfig, executor Executor, store db.MigrationStore, chains Chains, logger *zap.Logger) *Engine {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	return &Engine{
		config:   cfg,
		executor: executor,
		store:    store,
		chains:   chains,
		logger:   logger,
	}
}

// Start resumes in-flight migrations and starts the reconciliation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting relayer engine")
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.config.ResumeOnStart {
		if err := e.resume(e.ctx); err != nil {
			e.cancel()
			return fmt.Errorf("failed to resume migrations: %w", err)
		}
	}

	e.wg.Add(1)
	go e.reconcile()

	e.ready.Store(true)
	e.logger.Info("Relayer engine started")
	return nil
}

// Stop cancels running migrations and waits for them to persist their state.
func (e *Engine) Stop() {
	e.logger.Info("Stopping relayer engine")
	e.ready.Store(false)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("Relayer engine stopped")
}

// IsReady reports whether the engine finished resuming and accepts work.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// Submit validates and records a migration, then runs it in the background.
func (e *Engine) Submit(ctx context.Context, in SubmitRequest) (*migration.Request, error) {
	if !e.IsReady() {
		return nil, ErrEngineNotReady
	}
	req, err := e.executor.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	e.dispatch(req)
	return req, nil
}

// Retry reopens a failed migration and runs it again in the background.
func (e *Engine) Retry(ctx context.Context, id string) (*migration.Request, error) {
	if !e.IsReady() {
		return nil, ErrEngineNotReady
	}
	req, err := e.executor.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.dispatch(req)
	return req, nil
}

func (e *Engine) dispatch(req *migration.Request) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.executor.Execute(e.ctx, req); err != nil {
			e.logger.Warn("Migration stopped",
				zap.String("migration_id", req.ID),
				zap.String("state", string(req.State)),
				zap.Error(err))
			return
		}
		e.logger.Info("Migration completed",
			zap.String("migration_id", req.ID),
			zap.String("migration_hash", req.MigrationHash))
	}()
}

// resume picks up every request that had not reached a terminal state.
// Requests still Initiated with nothing broadcast never touched a chain and
// are failed so they can be retried explicitly.
func (e *Engine) resume(ctx context.Context) error {
	reqs, err := e.store.ListMigrations(ctx, db.WithStates(inFlightStates...))
	if err != nil {
		return err
	}
	e.logger.Info("Resuming migrations", zap.Int("count", len(reqs)))

	for _, req := range reqs {
		if req.State == migration.StateInitiated && !req.DepartureTx.Sent() && !req.PremintTx.Sent() {
			t := req.Fail("relay restarted before departure was submitted")
			if err := e.store.SaveTransition(ctx, req, t); err != nil {
				return err
			}
			metrics.MigrationsTotal.WithLabelValues(string(req.Type), string(migration.StateFailed)).Inc()
			continue
		}
		e.logger.Info("Resuming migration",
			zap.String("migration_id", req.ID),
			zap.String("migration_hash", req.MigrationHash),
			zap.String("state", string(req.State)))
		e.dispatch(req)
	}
	return nil
}

func (e *Engine) reconcile() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.ReconcileInterval)
	defer ticker.Stop()

	e.runReconciliation(e.ctx)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runReconciliation(e.ctx)
		}
	}
}

// runReconciliation refreshes gauges and reports requests that failed after
// touching a chain and need an operator.
func (e *Engine) runReconciliation(ctx context.Context) {
	for id, chain := range e.chains {
		reachable := 0.0
		if chain.Reachable() {
			reachable = 1
		}
		metrics.ChainReachable.WithLabelValues(id).Set(reachable)
	}

	counts, err := e.store.CountByState(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Reconciliation failed", zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("engine", "reconcile").Inc()
		}
		return
	}
	pending := 0
	for _, s := range inFlightStates {
		pending += counts[s]
	}
	metrics.PendingMigrations.Set(float64(pending))
	metrics.FailedMigrations.Set(float64(counts[migration.StateFailed]))

	failed, err := e.store.ListMigrations(ctx, db.WithStates(migration.StateFailed))
	if err != nil {
		e.logger.Error("Failed to list failed migrations", zap.Error(err))
		return
	}
	stuck := 0
	for _, req := range failed {
		if !req.Committed() {
			continue
		}
		stuck++
		e.logger.Warn("Migration awaiting manual reconciliation",
			zap.String("migration_id", req.ID),
			zap.String("migration_hash", req.MigrationHash),
			zap.String("last_state", string(req.LastState)),
			zap.String("reason", req.FailureReason))
	}
	e.logger.Info("Reconciliation summary",
		zap.Int("pending", pending),
		zap.Int("failed", counts[migration.StateFailed]),
		zap.Int("needs_attention", stuck))
}
