package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum/contracts"
)

// DepartureWatch is a one-shot listener for the departure pre-registration
// event of a single signee. It is opened before the departure transaction is
// submitted and must be closed by its owner once the migration step is over.
type DepartureWatch struct {
	backend  Backend
	universe string
	event    abi.Event
	query    geth.FilterQuery
	poll     time.Duration
	logger   *zap.Logger

	logs chan types.Log
	sub  geth.Subscription

	closeOnce sync.Once
}

func newDepartureWatch(ctx context.Context, backend Backend, universe string, event abi.Event, bridge common.Address, signee common.Hash, poll time.Duration, logger *zap.Logger) (*DepartureWatch, error) {
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}

	w := &DepartureWatch{
		backend:  backend,
		universe: universe,
		event:    event,
		query: geth.FilterQuery{
			FromBlock: new(big.Int).SetUint64(head),
			Addresses: []common.Address{bridge},
			// _originWorld and _originTokenId are not filtered on; _signee is the third indexed field.
			Topics: [][]common.Hash{{event.ID}, nil, nil, {signee}},
		},
		poll:   poll,
		logger: logger,
		logs:   make(chan types.Log, 16),
	}

	sub, err := backend.SubscribeFilterLogs(ctx, w.query, w.logs)
	if err != nil {
		logger.Debug("Log subscription unavailable, polling for departure event",
			zap.Error(err))
	} else {
		w.sub = sub
	}
	return w, nil
}

// Wait blocks until the departure event emitted by txHash is observed or the
// timeout elapses. The receipt, when available, is checked last so a dropped
// subscription cannot lose an event that is already on chain.
func (w *DepartureWatch) Wait(ctx context.Context, txHash common.Hash, receipt *types.Receipt, timeout time.Duration) (*Departure, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var subErr <-chan error
	if w.sub != nil {
		subErr = w.sub.Err()
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case lg := <-w.logs:
			if d, ok := w.match(waitCtx, lg, txHash); ok {
				return d, nil
			}
		case err := <-subErr:
			w.logger.Warn("Departure subscription dropped, polling",
				zap.Error(err))
			subErr = nil
			w.sub = nil
		case <-ticker.C:
			if w.sub != nil {
				continue
			}
			if d, ok := w.pollLogs(waitCtx, txHash); ok {
				return d, nil
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if receipt != nil {
				for _, lg := range receipt.Logs {
					if d, ok := w.match(ctx, *lg, txHash); ok {
						return d, nil
					}
				}
			}
			return nil, fmt.Errorf("%w: tx %s after %s", ErrEventNotObserved, txHash.Hex(), timeout)
		}
	}
}

func (w *DepartureWatch) pollLogs(ctx context.Context, txHash common.Hash) (*Departure, bool) {
	logs, err := w.backend.FilterLogs(ctx, w.query)
	if err != nil {
		w.logger.Warn("Failed to filter departure logs",
			zap.Error(err))
		return nil, false
	}
	for _, lg := range logs {
		if d, ok := w.match(ctx, lg, txHash); ok {
			return d, true
		}
	}
	return nil, false
}

func (w *DepartureWatch) match(ctx context.Context, lg types.Log, txHash common.Hash) (*Departure, bool) {
	if lg.Removed || lg.TxHash != txHash || len(lg.Topics) == 0 || lg.Topics[0] != w.event.ID {
		return nil, false
	}
	if !matchesTopics(lg.Topics, w.query.Topics) {
		return nil, false
	}

	values := make(map[string]interface{})
	if err := w.event.Inputs.NonIndexed().UnpackIntoMap(values, lg.Data); err != nil {
		w.logger.Warn("Failed to decode departure event",
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Error(err))
		return nil, false
	}
	raw, ok := values["_migrationHash"].([32]byte)
	if !ok {
		return nil, false
	}

	header, err := w.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
	if err != nil {
		w.logger.Warn("Failed to fetch departure block",
			zap.Uint64("block", lg.BlockNumber),
			zap.Error(err))
		return nil, false
	}

	metrics.EventsDetected.WithLabelValues(w.universe, contracts.EventDeparturePreRegister).Inc()
	return &Departure{
		MigrationHash:  common.Hash(raw),
		BlockNumber:    lg.BlockNumber,
		BlockTimestamp: header.Time,
		TxHash:         lg.TxHash,
	}, true
}

func matchesTopics(topics []common.Hash, filter [][]common.Hash) bool {
	for i, want := range filter {
		if len(want) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range want {
			if topics[i] == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Close tears down the underlying subscription. It is safe to call more than once.
func (w *DepartureWatch) Close() {
	w.closeOnce.Do(func() {
		if w.sub != nil {
			w.sub.Unsubscribe()
		}
	})
}
