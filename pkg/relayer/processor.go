package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	"github.com/chainsafe/nft-migration-relay/pkg/codec"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

type leg struct {
	universe *universe.Universe
	chain    ChainAdapter
}

func (o *Orchestrator) leg(id string) (leg, error) {
	u, err := o.universes.ByID(id)
	if err != nil {
		return leg{}, err
	}
	c, err := o.chains.get(id)
	if err != nil {
		return leg{}, err
	}
	return leg{universe: u, chain: c}, nil
}

// registerDeparture calls migrateToERC721IOU on the origin bridge, or reads the
// departure event back when the transaction was sent before a restart.
func (o *Orchestrator) registerDeparture(ctx context.Context, req *migration.Request) error {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return err
	}
	if req.DestinationTokenID == "" {
		if err := o.premintDestination(ctx, req); err != nil {
			return err
		}
	}

	receipt, err := o.settle(ctx, origin.chain, "departure", req.ID, req.DepartureTx)
	if err != nil {
		return err
	}

	var departure *ethereum.Departure
	if receipt != nil {
		departure, err = origin.chain.RecoverDeparture(ctx, origin.universe.Bridge, receipt.TxHash, req.OriginOwner)
		if err != nil {
			return fmt.Errorf("failed to recover departure: %w", err)
		}
		if departure == nil {
			return fmt.Errorf("departure transaction %s not found on %s", receipt.TxHash.Hex(), origin.universe.ID)
		}
	} else {
		params, err := departureParams(origin.universe, req)
		if err != nil {
			return err
		}
		departure, err = origin.chain.MigrateToERC721IOU(ctx, params, o.track(ctx, req, &req.DepartureTx))
		if err != nil {
			return fmt.Errorf("departure failed: %w", err)
		}
	}

	if departure.MigrationHash == (common.Hash{}) {
		return fmt.Errorf("%w: empty migration hash", ethereum.ErrEventNotObserved)
	}
	if err := req.AssignMigrationHash(departure.MigrationHash.Hex()); err != nil {
		return err
	}
	req.BlockTimestamp = departure.BlockTimestamp
	if !req.DepartureTx.Sent() {
		req.DepartureTx.Hashes = []string{departure.TxHash.Hex()}
	}
	return o.advance(ctx, req, migration.StateDepartureRegistered)
}

// premintDestination premints the IOU a Mint-IOU migration arrives on when
// the client left the destination token open. A premint broadcast before a
// restart is read back rather than minting a second IOU.
func (o *Orchestrator) premintDestination(ctx context.Context, req *migration.Request) error {
	dest, err := o.leg(req.DestinationUniverse)
	if err != nil {
		return err
	}
	world := common.HexToAddress(req.DestinationWorld)

	receipt, err := o.settle(ctx, dest.chain, "premint", req.ID, req.PremintTx)
	if err != nil {
		return err
	}
	var tokenID *big.Int
	if receipt != nil {
		tokenID, err = dest.chain.PremintedToken(ctx, receipt, world, dest.universe.Bridge)
	} else {
		tokenID, err = dest.chain.PremintToken(ctx, world, dest.universe.Bridge, o.track(ctx, req, &req.PremintTx))
	}
	if err != nil {
		return fmt.Errorf("failed to premint IOU token: %w", err)
	}

	req.DestinationTokenID = tokenID.String()
	if err := o.store.UpdateMigration(context.WithoutCancel(ctx), req); err != nil {
		return fmt.Errorf("failed to record IOU token %s: %w", req.DestinationTokenID, err)
	}
	o.logger.Info("IOU token preminted",
		zap.String("migration_id", req.ID),
		zap.String("universe", dest.universe.ID),
		zap.String("destination_token_id", req.DestinationTokenID))
	return nil
}

func departureParams(origin *universe.Universe, req *migration.Request) (ethereum.DepartureParams, error) {
	tokenID, err := codec.ParseTokenID(req.OriginTokenID)
	if err != nil {
		return ethereum.DepartureParams{}, fmt.Errorf("origin token id: %w", err)
	}
	destTokenID, err := codec.ParseTokenID(req.DestinationTokenID)
	if err != nil {
		return ethereum.DepartureParams{}, fmt.Errorf("destination token id: %w", err)
	}
	return ethereum.DepartureParams{
		OriginBridge:        origin.Bridge,
		OriginWorld:         common.HexToAddress(req.OriginWorld),
		OriginTokenID:       tokenID,
		OriginOwner:         req.OriginOwner,
		DestinationUniverse: req.DestinationUniverse,
		DestinationBridge:   req.DestinationBridge,
		DestinationWorld:    req.DestinationWorld,
		DestinationTokenID:  destTokenID,
		DestinationOwner:    req.DestinationOwner,
	}, nil
}

// obtainEscrowProof polls the origin bridge for the escrow hash. A zero hash
// means the proof is not there (yet); the request never signs without one.
func (o *Orchestrator) obtainEscrowProof(ctx context.Context, req *migration.Request) error {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return err
	}
	migrationHash := common.HexToHash(req.MigrationHash)

	var (
		escrow   common.Hash
		attempts int
	)
	op := func() error {
		attempts++
		h, err := origin.chain.GetProofOfEscrowHash(ctx, origin.universe.Bridge, migrationHash)
		if err != nil {
			o.logger.Debug("Escrow proof read failed",
				zap.String("migration_id", req.ID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		if h == (common.Hash{}) {
			return ErrEscrowProofMissing
		}
		escrow = h
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.EscrowProofDelay), uint64(o.opts.EscrowProofAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrEscrowProofMissing) {
			return fmt.Errorf("%w for %s after %d attempts", ErrEscrowProofMissing, req.MigrationHash, attempts)
		}
		return fmt.Errorf("failed to read escrow proof: %w", err)
	}

	req.EscrowHash = escrow.Hex()
	return o.advance(ctx, req, migration.StateEscrowProofObtained)
}

// signEscrow signs the escrow hash with the relay key and checks the
// signature recovers to the relay address before keeping it.
func (o *Orchestrator) signEscrow(ctx context.Context, req *migration.Request) error {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return err
	}
	escrow := common.HexToHash(req.EscrowHash)
	if escrow == (common.Hash{}) {
		return ErrEscrowProofMissing
	}

	v, err, _ := o.signing.Do("sign:"+req.MigrationHash, func() (interface{}, error) {
		sig, err := origin.chain.SignMessage(escrow.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to sign escrow hash: %w", err)
		}
		if !origin.chain.VerifySignature(escrow.Bytes(), sig, origin.chain.Address()) {
			return nil, fmt.Errorf("%w: does not recover to relay %s", ethereum.ErrInvalidSignature, origin.chain.Address().Hex())
		}
		return sig, nil
	})
	if err != nil {
		return err
	}

	req.Signature = hexutil.Encode(v.([]byte))
	return o.advance(ctx, req, migration.StateEscrowSigned)
}

// registerSignature publishes the signature on the origin bridge. Only one
// registration per migration hash is in flight at a time.
func (o *Orchestrator) registerSignature(ctx context.Context, req *migration.Request) error {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return err
	}

	receipt, err := o.settle(ctx, origin.chain, "registration", req.ID, req.RegistrationTx)
	if err != nil {
		return err
	}
	if receipt == nil {
		sig, err := hexutil.Decode(req.Signature)
		if err != nil {
			return fmt.Errorf("stored signature: %w", err)
		}
		_, err, _ = o.signing.Do("register:"+req.MigrationHash, func() (interface{}, error) {
			return origin.chain.RegisterEscrowHashSignature(ctx, origin.universe.Bridge, common.HexToHash(req.MigrationHash), sig,
				o.track(ctx, req, &req.RegistrationTx))
		})
		if err != nil {
			return fmt.Errorf("signature registration failed: %w", err)
		}
	}
	return o.advance(ctx, req, migration.StateSignatureRegistered)
}

// redeemArrival calls migrateFromIOUERC721ToERC721 on the destination bridge
// with the registered signature and the departure block timestamp.
func (o *Orchestrator) redeemArrival(ctx context.Context, req *migration.Request) error {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return err
	}
	dest, err := o.leg(req.DestinationUniverse)
	if err != nil {
		return err
	}

	receipt, err := o.settle(ctx, dest.chain, "arrival", req.ID, req.ArrivalTx)
	if err != nil {
		return err
	}
	if receipt == nil {
		params, err := arrivalParams(origin.universe, dest.universe, req)
		if err != nil {
			return err
		}
		_, err = dest.chain.MigrateFromIOUERC721ToERC721(ctx, params, o.track(ctx, req, &req.ArrivalTx))
		if err != nil {
			return fmt.Errorf("arrival failed: %w", err)
		}
	}
	return o.advance(ctx, req, migration.StateArrivalRedeemed)
}

func arrivalParams(origin, dest *universe.Universe, req *migration.Request) (ethereum.ArrivalParams, error) {
	tokenID, err := codec.ParseTokenID(req.OriginTokenID)
	if err != nil {
		return ethereum.ArrivalParams{}, fmt.Errorf("origin token id: %w", err)
	}
	destTokenID, err := codec.ParseTokenID(req.DestinationTokenID)
	if err != nil {
		return ethereum.ArrivalParams{}, fmt.Errorf("destination token id: %w", err)
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return ethereum.ArrivalParams{}, fmt.Errorf("stored signature: %w", err)
	}
	return ethereum.ArrivalParams{
		DestinationBridge:  dest.Bridge,
		OriginUniverse:     req.OriginUniverse,
		OriginBridge:       origin.Bridge.Hex(),
		OriginWorld:        req.OriginWorld,
		OriginTokenID:      tokenID,
		OriginOwner:        req.OriginOwner,
		DestinationWorld:   common.HexToAddress(req.DestinationWorld),
		DestinationTokenID: destTokenID,
		DestinationOwner:   common.HexToAddress(req.DestinationOwner),
		BlockTimestamp:     req.BlockTimestamp,
		Signature:          sig,
	}, nil
}

// complete finishes the request. For IOU mints the origin metadata URI is
// copied onto the IOU; that copy is best effort.
func (o *Orchestrator) complete(ctx context.Context, req *migration.Request) error {
	if req.Type == migration.TypeMintIOU {
		o.copyTokenURI(ctx, req)
	}
	if err := o.advance(ctx, req, migration.StateCompleted); err != nil {
		return err
	}
	if !req.CreatedAt.IsZero() {
		metrics.MigrationDuration.WithLabelValues(string(req.Type)).Observe(time.Since(req.CreatedAt).Seconds())
	}
	return nil
}

func (o *Orchestrator) copyTokenURI(ctx context.Context, req *migration.Request) {
	origin, err := o.leg(req.OriginUniverse)
	if err != nil {
		return
	}
	dest, err := o.leg(req.DestinationUniverse)
	if err != nil {
		return
	}
	tokenID, _ := codec.ParseTokenID(req.OriginTokenID)
	destTokenID, _ := codec.ParseTokenID(req.DestinationTokenID)

	uri, err := origin.chain.GetTokenURI(ctx, common.HexToAddress(req.OriginWorld), tokenID)
	if err != nil || uri == "" {
		o.logger.Warn("Origin token URI unavailable, IOU keeps its own",
			zap.String("migration_id", req.ID),
			zap.Error(err))
		return
	}
	if _, err := dest.chain.SetTokenURI(ctx, common.HexToAddress(req.DestinationWorld), destTokenID, uri); err != nil {
		o.logger.Warn("Failed to copy token URI to IOU",
			zap.String("migration_id", req.ID),
			zap.String("token_uri", uri),
			zap.Error(err))
	}
}

// settle resolves the earlier broadcasts of a step, left behind by a restart
// or a failed attempt. It returns the receipt when one of them was mined
// successfully and nil when the step has to be sent again. While a broadcast
// can still be mined it polls for up to PendingTxWait, then fails with
// ErrTxPending.
func (o *Orchestrator) settle(ctx context.Context, chain ChainAdapter, step, id string, b migration.Broadcast) (*types.Receipt, error) {
	if !b.Sent() {
		return nil, nil
	}

	var receipt *types.Receipt
	op := func() error {
		r, pending, err := lookup(ctx, chain, b)
		if err != nil {
			return err
		}
		if pending {
			return ErrTxPending
		}
		receipt = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.PendingTxPoll), uint64(o.opts.PendingTxWait/o.opts.PendingTxPoll)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrTxPending) {
			return nil, fmt.Errorf("%w: %s %s on %s after %s", ErrTxPending, step, b.Latest(), chain.UniverseID(), o.opts.PendingTxWait)
		}
		return nil, fmt.Errorf("failed to look up %s transaction: %w", step, err)
	}

	fields := []zap.Field{
		zap.String("migration_id", id),
		zap.String("step", step),
		zap.String("universe", chain.UniverseID()),
		zap.Strings("tx_hashes", b.Hashes),
	}
	switch {
	case receipt == nil:
		o.logger.Warn("Earlier transaction dropped, resubmitting", fields...)
		return nil, nil
	case receipt.Status != types.ReceiptStatusSuccessful:
		o.logger.Warn("Earlier transaction reverted, resubmitting", append(fields, zap.String("tx_hash", receipt.TxHash.Hex()))...)
		return nil, nil
	}
	o.logger.Info("Transaction already confirmed, skipping resubmission", append(fields, zap.String("tx_hash", receipt.TxHash.Hex()))...)
	return receipt, nil
}

// lookup returns the receipt of any broadcast in b, newest first. pending is
// set while none is mined and the nonce is still open. The nonce is read
// before the receipts so a transaction mined in between is not taken for
// dropped.
func lookup(ctx context.Context, chain ChainAdapter, b migration.Broadcast) (*types.Receipt, bool, error) {
	var confirmed uint64
	if b.Nonce != nil {
		n, err := chain.ConfirmedNonce(ctx)
		if err != nil {
			return nil, false, err
		}
		confirmed = n
	}
	for i := len(b.Hashes) - 1; i >= 0; i-- {
		receipt, err := chain.TransactionReceipt(ctx, common.HexToHash(b.Hashes[i]))
		if err != nil {
			return nil, false, err
		}
		if receipt != nil {
			return receipt, false, nil
		}
	}
	// Without a nonce a dropped transaction cannot be told from a slow one.
	if b.Nonce == nil {
		return nil, true, nil
	}
	return nil, confirmed <= *b.Nonce, nil
}
