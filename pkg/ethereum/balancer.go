package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	"github.com/chainsafe/nft-migration-relay/pkg/config"
)

// TxStatus is the lifecycle state of a PendingTransaction.
type TxStatus string

const (
	TxQueued    TxStatus = "queued"
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// PendingTransaction is owned by the Balancer from queueing to its terminal state.
// Nonce is nil until one is allocated.
type PendingTransaction struct {
	Universe string
	Label    string
	Ref      string
	Nonce    *uint64
	To       common.Address
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
	TxHash   common.Hash
	Attempt  int
	Status   TxStatus
	Reason   string
}

// TxJournal persists every status change of a PendingTransaction.
type TxJournal interface {
	RecordTransaction(ctx context.Context, tx PendingTransaction) error
}

// BalancerConfig tunes submission, replacement and confirmation for one chain.
type BalancerConfig struct {
	Universe           string
	ChainID            *big.Int
	GasLimit           uint64
	MaxGasPrice        *big.Int
	GasBumpPercent     int
	StallTimeout       time.Duration
	MaxResubmissions   int
	ConfirmationBlocks uint64
	PollInterval       time.Duration
}

// NewBalancerConfig derives Balancer settings from a universe entry.
func NewBalancerConfig(u *config.UniverseConfig) (BalancerConfig, error) {
	maxPrice, err := u.MaxGasPriceWei()
	if err != nil {
		return BalancerConfig{}, err
	}
	return BalancerConfig{
		Universe:           u.ID,
		ChainID:            big.NewInt(u.ChainID),
		GasLimit:           u.GasLimit,
		MaxGasPrice:        maxPrice,
		GasBumpPercent:     u.GasBumpPercent,
		StallTimeout:       u.StallTimeout,
		MaxResubmissions:   u.MaxResubmissions,
		ConfirmationBlocks: u.ConfirmationBlocks,
		PollInterval:       u.ReceiptPollInterval,
	}, nil
}

var errGasCapReached = errors.New("gas price already at configured maximum")

// Balancer is the only writer of the relay account's nonce sequence on one chain.
// Nonce allocation and broadcast happen under a single mutex so concurrent
// callers always receive distinct, consecutive nonces.
type Balancer struct {
	cfg      BalancerConfig
	backend  Backend
	signer   *Signer
	txSigner types.Signer
	journal  TxJournal
	logger   *zap.Logger

	mu     sync.Mutex
	nonce  uint64
	synced bool
}

// NewBalancer creates a Balancer. journal may be nil.
func NewBalancer(cfg BalancerConfig, backend Backend, signer *Signer, journal TxJournal, logger *zap.Logger) *Balancer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 90 * time.Second
	}
	if cfg.GasBumpPercent < 10 {
		cfg.GasBumpPercent = 10
	}
	return &Balancer{
		cfg:      cfg,
		backend:  backend,
		signer:   signer,
		txSigner: types.LatestSignerForChainID(cfg.ChainID),
		journal:  journal,
		logger:   logger,
	}
}

// Send submits req from the relay account and blocks until the transaction is
// confirmed with the configured block margin, replacing it with a higher gas
// price while it stalls. Terminal failures are returned as *TxError.
func (b *Balancer) Send(ctx context.Context, req TxRequest) (*types.Receipt, error) {
	start := time.Now()
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	pt := &PendingTransaction{
		Universe: b.cfg.Universe,
		Label:    req.Label,
		Ref:      req.Ref,
		To:       req.To,
		Data:     req.Data,
		Status:   TxQueued,
	}

	gas, err := b.estimateGas(ctx, req, value)
	if err != nil {
		return nil, b.fail(ctx, pt, err)
	}
	pt.Gas = gas

	price, err := b.gasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	pt.GasPrice = price
	b.record(ctx, pt)

	tx, err := b.submit(ctx, pt, value)
	if err != nil {
		return nil, b.fail(ctx, pt, err)
	}
	req.submitted(tx, pt.Attempt)

	receipt, err := b.waitForConfirmation(ctx, pt, req.Track, tx, value)
	if err != nil {
		return nil, err
	}

	metrics.ConfirmationWait.WithLabelValues(b.cfg.Universe).Observe(time.Since(start).Seconds())
	metrics.GasUsed.WithLabelValues(req.Label).Observe(float64(receipt.GasUsed))
	return receipt, nil
}

func (b *Balancer) estimateGas(ctx context.Context, req TxRequest, value *big.Int) (uint64, error) {
	if req.GasLimit > 0 {
		return req.GasLimit, nil
	}

	msg := geth.CallMsg{From: b.signer.Address(), To: &req.To, Data: req.Data, Value: value}
	estimate, err := b.backend.EstimateGas(ctx, msg)
	if err != nil {
		switch {
		case isInsufficientFunds(err):
			return 0, &TxError{Cause: CauseInsufficientFunds, Reason: err.Error()}
		case isRevert(err):
			return 0, &TxError{Cause: CauseReverted, Reason: revertReason(err)}
		}
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	gas := estimate + estimate/5
	if b.cfg.GasLimit > 0 && gas > b.cfg.GasLimit {
		if estimate > b.cfg.GasLimit {
			return 0, &TxError{
				Cause:  CauseRejected,
				Reason: fmt.Sprintf("gas estimate %d exceeds limit %d", estimate, b.cfg.GasLimit),
			}
		}
		gas = b.cfg.GasLimit
	}
	return gas, nil
}

func (b *Balancer) gasPrice(ctx context.Context) (*big.Int, error) {
	price, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if b.cfg.MaxGasPrice != nil && price.Cmp(b.cfg.MaxGasPrice) > 0 {
		b.logger.Warn("Suggested gas price exceeds maximum",
			zap.String("suggested_gwei", gwei(price)),
			zap.String("max_gwei", gwei(b.cfg.MaxGasPrice)))
		price = new(big.Int).Set(b.cfg.MaxGasPrice)
	}
	return price, nil
}

// submit allocates the next nonce and broadcasts under the account lock.
// A nonce is consumed only when the node accepted the transaction.
func (b *Balancer) submit(ctx context.Context, pt *PendingTransaction, value *big.Int) (*types.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for resynced := false; ; resynced = true {
		nonce, err := b.nextNonce(ctx)
		if err != nil {
			return nil, err
		}

		tx, err := b.sign(nonce, pt.To, value, pt.Gas, pt.GasPrice, pt.Data)
		if err != nil {
			return nil, err
		}

		err = b.backend.SendTransaction(ctx, tx)
		switch {
		case err == nil, isAlreadyKnown(err):
			b.nonce = nonce + 1
			pt.Nonce = &nonce
			pt.TxHash = tx.Hash()
			pt.Attempt = 1
			pt.Status = TxSubmitted
			b.record(ctx, pt)
			metrics.TransactionsSent.WithLabelValues(b.cfg.Universe, "submitted").Inc()
			b.logger.Info("Transaction submitted",
				zap.String("label", pt.Label),
				zap.Uint64("nonce", nonce),
				zap.String("gas_price_gwei", gwei(pt.GasPrice)),
				zap.String("tx_hash", tx.Hash().Hex()))
			return tx, nil
		case isNonceTooLow(err) && !resynced:
			b.logger.Warn("Nonce out of sync, reloading from chain",
				zap.Uint64("nonce", nonce))
			b.synced = false
			continue
		case isInsufficientFunds(err):
			return nil, &TxError{Cause: CauseInsufficientFunds, Reason: err.Error(), Nonce: &nonce}
		case isTransportError(err), errors.Is(err, ErrChainUnreachable):
			b.synced = false
			return nil, fmt.Errorf("failed to send transaction: %w", err)
		default:
			return nil, &TxError{Cause: CauseRejected, Reason: err.Error(), Nonce: &nonce}
		}
	}
}

func (b *Balancer) nextNonce(ctx context.Context) (uint64, error) {
	if !b.synced {
		n, err := b.backend.PendingNonceAt(ctx, b.signer.Address())
		if err != nil {
			return 0, fmt.Errorf("failed to get nonce: %w", err)
		}
		b.nonce = n
		b.synced = true
	}
	return b.nonce, nil
}

// resync drops the local counter so the next allocation reloads it from chain.
func (b *Balancer) resync() {
	b.mu.Lock()
	b.synced = false
	b.mu.Unlock()
}

func (b *Balancer) sign(nonce uint64, to common.Address, value *big.Int, gas uint64, price *big.Int, data []byte) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, b.txSigner, b.signer.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (b *Balancer) waitForConfirmation(ctx context.Context, pt *PendingTransaction, track Track, first *types.Transaction, value *big.Int) (*types.Receipt, error) {
	sent := []*types.Transaction{first}
	current := first
	resubmissions := 0
	stallDeadline := time.Now().Add(b.cfg.StallTimeout)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.findReceipt(ctx, sent)
		switch {
		case err != nil:
			b.logger.Warn("Failed to query receipt",
				zap.String("tx_hash", current.Hash().Hex()),
				zap.Error(err))
		case receipt != nil:
			final, ferr := b.checkFinal(ctx, receipt)
			if ferr != nil {
				b.logger.Warn("Failed to check confirmations",
					zap.Error(ferr))
			} else if final != nil {
				return b.finalize(ctx, pt, final, value)
			}
			stallDeadline = time.Now().Add(b.cfg.StallTimeout)
		case time.Now().After(stallDeadline):
			if resubmissions >= b.cfg.MaxResubmissions {
				b.resync()
				return nil, b.fail(ctx, pt, &TxError{
					Cause:  CauseTimeout,
					Reason: fmt.Sprintf("not mined after %d resubmissions", resubmissions),
					Nonce:  pt.Nonce,
					TxHash: current.Hash(),
				})
			}
			resubmissions++
			next, berr := b.bump(ctx, pt, current, value, resubmissions)
			if berr != nil {
				b.logger.Warn("Gas bump not submitted",
					zap.Uint64("nonce", current.Nonce()),
					zap.Int("resubmission", resubmissions),
					zap.Error(berr))
			} else {
				sent = append(sent, next)
				current = next
				track.submitted(next, pt.Attempt)
			}
			stallDeadline = time.Now().Add(b.cfg.StallTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transaction %s: %w", current.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// findReceipt checks every submitted version of the transaction, newest first.
func (b *Balancer) findReceipt(ctx context.Context, sent []*types.Transaction) (*types.Receipt, error) {
	for i := len(sent) - 1; i >= 0; i-- {
		receipt, err := b.backend.TransactionReceipt(ctx, sent[i].Hash())
		if errors.Is(err, geth.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
	}
	return nil, nil
}

// checkFinal returns the receipt once it is buried under the confirmation
// margin and still part of the canonical chain, nil while it is not.
func (b *Balancer) checkFinal(ctx context.Context, receipt *types.Receipt) (*types.Receipt, error) {
	if b.cfg.ConfirmationBlocks == 0 {
		return receipt, nil
	}

	head, err := b.backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if head < receipt.BlockNumber.Uint64()+b.cfg.ConfirmationBlocks {
		return nil, nil
	}

	latest, err := b.backend.TransactionReceipt(ctx, receipt.TxHash)
	if errors.Is(err, geth.NotFound) {
		b.logger.Warn("Transaction dropped by reorg",
			zap.String("tx_hash", receipt.TxHash.Hex()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.BlockHash != receipt.BlockHash {
		return nil, nil
	}
	return latest, nil
}

func (b *Balancer) finalize(ctx context.Context, pt *PendingTransaction, receipt *types.Receipt, value *big.Int) (*types.Receipt, error) {
	pt.TxHash = receipt.TxHash
	if receipt.Status == types.ReceiptStatusFailed {
		reason := b.replayRevert(ctx, pt, receipt, value)
		return nil, b.fail(ctx, pt, &TxError{
			Cause:  CauseReverted,
			Reason: reason,
			Nonce:  pt.Nonce,
			TxHash: receipt.TxHash,
		})
	}

	pt.Status = TxConfirmed
	b.record(ctx, pt)
	metrics.TransactionsSent.WithLabelValues(b.cfg.Universe, "confirmed").Inc()
	b.logger.Info("Transaction confirmed",
		zap.String("label", pt.Label),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed))
	return receipt, nil
}

func (b *Balancer) replayRevert(ctx context.Context, pt *PendingTransaction, receipt *types.Receipt, value *big.Int) string {
	msg := geth.CallMsg{From: b.signer.Address(), To: &pt.To, Data: pt.Data, Value: value, Gas: pt.Gas}
	_, err := b.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return "execution reverted"
	}
	return revertReason(err)
}

// bump re-signs the stalled transaction with the same nonce and a higher price.
func (b *Balancer) bump(ctx context.Context, pt *PendingTransaction, prev *types.Transaction, value *big.Int, attempt int) (*types.Transaction, error) {
	price := bumpGasPrice(prev.GasPrice(), b.cfg.GasBumpPercent)
	if suggested, err := b.backend.SuggestGasPrice(ctx); err == nil && suggested.Cmp(price) > 0 {
		price = suggested
	}
	if b.cfg.MaxGasPrice != nil && price.Cmp(b.cfg.MaxGasPrice) > 0 {
		price = new(big.Int).Set(b.cfg.MaxGasPrice)
	}
	if price.Cmp(prev.GasPrice()) <= 0 {
		return nil, errGasCapReached
	}

	tx, err := b.sign(prev.Nonce(), *prev.To(), value, prev.Gas(), price, prev.Data())
	if err != nil {
		return nil, err
	}
	if err := b.backend.SendTransaction(ctx, tx); err != nil && !isAlreadyKnown(err) {
		return nil, err
	}

	pt.GasPrice = price
	pt.TxHash = tx.Hash()
	pt.Attempt = attempt + 1
	pt.Status = TxSubmitted
	b.record(ctx, pt)
	metrics.GasBumps.WithLabelValues(b.cfg.Universe).Inc()
	b.logger.Info("Replaced stalled transaction",
		zap.Uint64("nonce", tx.Nonce()),
		zap.String("old_gas_price_gwei", gwei(prev.GasPrice())),
		zap.String("new_gas_price_gwei", gwei(price)),
		zap.String("old_tx_hash", prev.Hash().Hex()),
		zap.String("tx_hash", tx.Hash().Hex()))
	return tx, nil
}

func bumpGasPrice(price *big.Int, percent int) *big.Int {
	bumped := new(big.Int).Mul(price, big.NewInt(int64(100+percent)))
	bumped.Div(bumped, big.NewInt(100))
	if bumped.Cmp(price) <= 0 {
		bumped.Add(price, big.NewInt(1))
	}
	return bumped
}

func (b *Balancer) fail(ctx context.Context, pt *PendingTransaction, err error) error {
	pt.Status = TxFailed
	pt.Reason = err.Error()
	b.record(ctx, pt)
	metrics.TransactionsSent.WithLabelValues(b.cfg.Universe, "failed").Inc()
	b.logger.Error("Transaction failed",
		zap.String("label", pt.Label),
		zap.String("tx_hash", pt.TxHash.Hex()),
		zap.Error(err))
	return err
}

func (b *Balancer) record(ctx context.Context, pt *PendingTransaction) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordTransaction(context.WithoutCancel(ctx), *pt); err != nil {
		b.logger.Warn("Failed to journal transaction",
			zap.String("tx_hash", pt.TxHash.Hex()),
			zap.Error(err))
	}
}

func gwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}
