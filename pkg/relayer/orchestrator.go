// Package relayer drives migration requests through the bridge protocol:
// departure on the origin bridge, escrow proof, relay signature, signature
// registration and arrival on the destination bridge.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	"github.com/chainsafe/nft-migration-relay/pkg/codec"
	"github.com/chainsafe/nft-migration-relay/pkg/db"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

var (
	ErrNotERC721          = errors.New("contract is not an ERC-721")
	ErrNotOwner           = errors.New("origin owner does not own the token")
	ErrAlreadyCompleted   = errors.New("migration already completed")
	ErrInProgress         = errors.New("migration already being processed")
	ErrInvalidRequest     = errors.New("invalid migration request")
	ErrUnreachableTarget  = errors.New("destination universe not reachable from origin")
	ErrEscrowProofMissing = errors.New("escrow proof not available")
	// ErrTxPending is returned while an earlier broadcast of a step may still
	// be mined. Resending then would race it with a new nonce.
	ErrTxPending = errors.New("earlier transaction still pending")
)

// MigrationError reports a request that stopped short of completion.
// State is the last state the request reached.
type MigrationError struct {
	ID     string
	State  migration.State
	Reason string
	Err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed after %s: %s", e.ID, e.State, e.Reason)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ChainAdapter is the per-universe chain surface the orchestrator uses.
// *ethereum.Client implements it.
type ChainAdapter interface {
	UniverseID() string
	Address() common.Address
	Reachable() bool
	IsErc721(ctx context.Context, contract common.Address) bool
	IsOwner(ctx context.Context, contract common.Address, tokenID *big.Int, owner string) bool
	GetTokenURI(ctx context.Context, contract common.Address, tokenID *big.Int) (string, error)
	SetTokenURI(ctx context.Context, contract common.Address, tokenID *big.Int, uri string) (*types.Receipt, error)
	PremintToken(ctx context.Context, contract, bridge common.Address, track ethereum.Track) (*big.Int, error)
	PremintedToken(ctx context.Context, receipt *types.Receipt, contract, bridge common.Address) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ConfirmedNonce(ctx context.Context) (uint64, error)
	MigrateToERC721IOU(ctx context.Context, p ethereum.DepartureParams, track ethereum.Track) (*ethereum.Departure, error)
	RecoverDeparture(ctx context.Context, bridge common.Address, txHash common.Hash, originOwner string) (*ethereum.Departure, error)
	GetProofOfEscrowHash(ctx context.Context, bridge common.Address, migrationHash common.Hash) (common.Hash, error)
	RegisterEscrowHashSignature(ctx context.Context, bridge common.Address, migrationHash common.Hash, signature []byte, track ethereum.Track) (*types.Receipt, error)
	MigrateFromIOUERC721ToERC721(ctx context.Context, p ethereum.ArrivalParams, track ethereum.Track) (*types.Receipt, error)
	SignMessage(data []byte) ([]byte, error)
	VerifySignature(data, sig []byte, expected common.Address) bool
}

// Chains resolves the adapter of a universe.
type Chains map[string]ChainAdapter

func (c Chains) get(id string) (ChainAdapter, error) {
	a, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("%w: no chain adapter for %s", universe.ErrUnknownUniverse, id)
	}
	return a, nil
}

const defaultPendingTxPoll = 5 * time.Second

// Options tunes the protocol steps.
type Options struct {
	EscrowProofAttempts int
	EscrowProofDelay    time.Duration
	// PendingTxWait bounds how long a resumed step waits on a broadcast that
	// is neither mined nor replaced before giving up.
	PendingTxWait time.Duration
	PendingTxPoll time.Duration
}

// SubmitRequest is a migration as a client describes it. DestinationTokenID
// may be left empty for Mint-IOU migrations; a fresh IOU is preminted when
// the migration runs.
type SubmitRequest struct {
	Type                migration.Type `json:"type" validate:"required,oneof=mint-iou redeem-iou"`
	OriginUniverse      string         `json:"origin_universe" validate:"required"`
	OriginWorld         string         `json:"origin_world" validate:"required,eth_addr"`
	OriginTokenID       string         `json:"origin_token_id" validate:"required,numeric"`
	OriginOwner         string         `json:"origin_owner" validate:"required,eth_addr"`
	DestinationUniverse string         `json:"destination_universe" validate:"required"`
	DestinationWorld    string         `json:"destination_world" validate:"required,eth_addr"`
	DestinationTokenID  string         `json:"destination_token_id,omitempty" validate:"omitempty,numeric"`
	DestinationOwner    string         `json:"destination_owner" validate:"required,eth_addr"`
}

// Orchestrator runs the migration state machine. It is safe for concurrent use;
// a single request is only ever driven by one caller at a time.
type Orchestrator struct {
	universes *universe.Registry
	chains    Chains
	store     db.MigrationStore
	opts      Options
	logger    *zap.Logger

	signing singleflight.Group
	active  sync.Map
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(universes *universe.Registry, chains Chains, store db.MigrationStore, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.EscrowProofAttempts <= 0 {
		opts.EscrowProofAttempts = 1
	}
	if opts.PendingTxPoll <= 0 {
		opts.PendingTxPoll = defaultPendingTxPoll
	}
	return &Orchestrator{
		universes: universes,
		chains:    chains,
		store:     store,
		opts:      opts,
		logger:    logger,
	}
}

// Submit validates a migration against the origin chain and records it as
// Initiated. Protocol violations are returned immediately and nothing is
// stored. An origin token has at most one unfinished request.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitRequest) (*migration.Request, error) {
	origin, err := o.universes.ByID(in.OriginUniverse)
	if err != nil {
		return nil, err
	}
	dest, err := o.universes.ByID(in.DestinationUniverse)
	if err != nil {
		return nil, err
	}
	if !origin.CanReach(dest.ID) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachableTarget, origin.ID, dest.ID)
	}
	if _, err := migration.ParseType(string(in.Type)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, addr := range []string{in.OriginWorld, in.OriginOwner, in.DestinationWorld, in.DestinationOwner} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: %q is not an address", ErrInvalidRequest, addr)
		}
	}
	tokenID, err := codec.ParseTokenID(in.OriginTokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: origin token id: %v", ErrInvalidRequest, err)
	}

	originChain, err := o.chains.get(origin.ID)
	if err != nil {
		return nil, err
	}
	if _, err := o.chains.get(dest.ID); err != nil {
		return nil, err
	}

	world := common.HexToAddress(in.OriginWorld)
	active, err := o.store.ListMigrations(ctx, db.WithOriginToken(origin.ID, world.Hex(), tokenID.String()), db.WithStates(inFlightStates...))
	if err != nil {
		return nil, fmt.Errorf("failed to look up migrations of token: %w", err)
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("%w: token %s of %s is migrating in %s", ErrInProgress, tokenID, world.Hex(), active[0].ID)
	}

	if !originChain.IsErc721(ctx, world) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotERC721, world.Hex(), origin.ID)
	}
	if !originChain.IsOwner(ctx, world, tokenID, in.OriginOwner) {
		return nil, fmt.Errorf("%w: token %s of %s", ErrNotOwner, tokenID, world.Hex())
	}

	destWorld := common.HexToAddress(in.DestinationWorld)
	destTokenID := in.DestinationTokenID
	switch in.Type {
	case migration.TypeMintIOU:
		if !dest.HasWorld(destWorld) {
			return nil, fmt.Errorf("%w: %s is not an IOU world of %s", ErrInvalidRequest, destWorld.Hex(), dest.ID)
		}
	case migration.TypeRedeemIOU:
		if destTokenID == "" {
			return nil, fmt.Errorf("%w: destination token id is required to redeem an IOU", ErrInvalidRequest)
		}
	}
	if destTokenID != "" {
		id, err := codec.ParseTokenID(destTokenID)
		if err != nil {
			return nil, fmt.Errorf("%w: destination token id: %v", ErrInvalidRequest, err)
		}
		destTokenID = id.String()
	}

	req := &migration.Request{
		ID:                  uuid.NewString(),
		Type:                in.Type,
		OriginUniverse:      origin.ID,
		OriginWorld:         world.Hex(),
		OriginTokenID:       tokenID.String(),
		OriginOwner:         common.HexToAddress(in.OriginOwner).Hex(),
		DestinationUniverse: dest.ID,
		DestinationBridge:   dest.Bridge.Hex(),
		DestinationWorld:    destWorld.Hex(),
		DestinationTokenID:  destTokenID,
		DestinationOwner:    common.HexToAddress(in.DestinationOwner).Hex(),
		State:               migration.StateInitiated,
	}
	if err := o.store.CreateMigration(ctx, req); err != nil {
		if errors.Is(err, db.ErrActiveOrigin) {
			return nil, fmt.Errorf("%w: token %s of %s", ErrInProgress, tokenID, world.Hex())
		}
		return nil, fmt.Errorf("failed to record migration: %w", err)
	}
	metrics.MigrationsTotal.WithLabelValues(string(req.Type), string(req.State)).Inc()

	o.logger.Info("Migration initiated",
		zap.String("migration_id", req.ID),
		zap.String("type", string(req.Type)),
		zap.String("origin", req.OriginUniverse),
		zap.String("destination", req.DestinationUniverse),
		zap.String("origin_token_id", req.OriginTokenID),
		zap.String("destination_token_id", req.DestinationTokenID))
	return req, nil
}

// Retry reopens a failed request at the state it had reached. The caller
// then executes it again; passed steps are not repeated.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*migration.Request, error) {
	req, err := o.store.GetMigration(ctx, db.WithID(id))
	if err != nil {
		return nil, err
	}
	if req.State == migration.StateCompleted {
		return nil, ErrAlreadyCompleted
	}
	t, err := req.Reopen()
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveTransition(ctx, req, t); err != nil {
		if errors.Is(err, db.ErrActiveOrigin) {
			return nil, fmt.Errorf("%w: another request for token %s is unfinished", ErrInProgress, req.OriginTokenID)
		}
		return nil, fmt.Errorf("failed to reopen migration: %w", err)
	}
	o.logger.Info("Migration reopened",
		zap.String("migration_id", req.ID),
		zap.String("state", string(req.State)))
	return req, nil
}

// Execute drives req forward until it completes or fails. A request whose
// context is cancelled mid-flight keeps its state so it can be resumed.
func (o *Orchestrator) Execute(ctx context.Context, req *migration.Request) error {
	switch req.State {
	case migration.StateCompleted:
		return ErrAlreadyCompleted
	case migration.StateFailed:
		return &MigrationError{ID: req.ID, State: req.LastState, Reason: req.FailureReason, Err: migration.ErrNotFailed}
	}

	if _, loaded := o.active.LoadOrStore(req.ID, struct{}{}); loaded {
		return fmt.Errorf("%w: %s", ErrInProgress, req.ID)
	}
	defer o.active.Delete(req.ID)

	for !req.State.Terminal() {
		if err := o.step(ctx, req); err != nil {
			if ctx.Err() != nil {
				o.logger.Warn("Migration interrupted",
					zap.String("migration_id", req.ID),
					zap.String("state", string(req.State)),
					zap.Error(err))
				return err
			}
			return o.fail(ctx, req, err)
		}
	}
	return nil
}

func (o *Orchestrator) step(ctx context.Context, req *migration.Request) error {
	switch req.State {
	case migration.StateInitiated:
		return o.registerDeparture(ctx, req)
	case migration.StateDepartureRegistered:
		return o.obtainEscrowProof(ctx, req)
	case migration.StateEscrowProofObtained:
		return o.signEscrow(ctx, req)
	case migration.StateEscrowSigned:
		return o.registerSignature(ctx, req)
	case migration.StateSignatureRegistered:
		return o.redeemArrival(ctx, req)
	case migration.StateArrivalRedeemed:
		return o.complete(ctx, req)
	default:
		return fmt.Errorf("no step for state %q", req.State)
	}
}

func (o *Orchestrator) advance(ctx context.Context, req *migration.Request, next migration.State) error {
	t, err := req.Advance(next)
	if err != nil {
		return err
	}
	// On-chain effects are already committed at this point.
	if err := o.store.SaveTransition(context.WithoutCancel(ctx), req, t); err != nil {
		return fmt.Errorf("failed to persist %s: %w", next, err)
	}
	metrics.MigrationsTotal.WithLabelValues(string(req.Type), string(next)).Inc()
	o.logger.Info("Migration advanced",
		zap.String("migration_id", req.ID),
		zap.String("migration_hash", req.MigrationHash),
		zap.String("state", string(next)))
	return nil
}

// track saves every broadcast of a step, gas bumps included, as soon as the
// Balancer hands it out.
func (o *Orchestrator) track(ctx context.Context, req *migration.Request, b *migration.Broadcast) ethereum.Track {
	return ethereum.Track{
		Ref: req.ID,
		OnSubmitted: func(s ethereum.Submission) {
			b.Record(s.Hash.Hex(), s.Nonce)
			if err := o.store.UpdateMigration(context.WithoutCancel(ctx), req); err != nil {
				o.logger.Error("Failed to record transaction hash",
					zap.String("migration_id", req.ID),
					zap.String("tx_hash", s.Hash.Hex()),
					zap.Uint64("nonce", s.Nonce),
					zap.Error(err))
			}
		},
	}
}

func (o *Orchestrator) fail(ctx context.Context, req *migration.Request, cause error) error {
	reason := cause.Error()
	t := req.Fail(reason)
	if err := o.store.SaveTransition(context.WithoutCancel(ctx), req, t); err != nil {
		o.logger.Error("Failed to persist migration failure",
			zap.String("migration_id", req.ID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	metrics.MigrationsTotal.WithLabelValues(string(req.Type), string(migration.StateFailed)).Inc()
	metrics.ErrorsTotal.WithLabelValues("orchestrator", errorType(cause)).Inc()

	fields := []zap.Field{
		zap.String("migration_id", req.ID),
		zap.String("migration_hash", req.MigrationHash),
		zap.String("last_state", string(req.LastState)),
		zap.Error(cause),
	}
	if req.Committed() {
		o.logger.Error("Migration failed after on-chain commitment, manual reconciliation required", fields...)
	} else {
		o.logger.Warn("Migration failed", fields...)
	}
	return &MigrationError{ID: req.ID, State: req.LastState, Reason: reason, Err: cause}
}

func errorType(err error) string {
	var txErr *ethereum.TxError
	switch {
	case errors.As(err, &txErr):
		return "tx_" + string(txErr.Cause)
	case errors.Is(err, ethereum.ErrChainUnreachable):
		return "chain_unreachable"
	case errors.Is(err, ethereum.ErrEventNotObserved):
		return "event_not_observed"
	case errors.Is(err, ErrEscrowProofMissing):
		return "escrow_proof_missing"
	case errors.Is(err, ErrTxPending):
		return "tx_pending"
	case errors.Is(err, db.ErrDuplicateMigrationHash):
		return "duplicate_migration_hash"
	default:
		return "other"
	}
}
