package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/internal/metrics"
)

// Backend is the subset of ethclient.Client used by the adapter and the Balancer.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// DialFunc opens a new connection to a chain endpoint.
type DialFunc func(ctx context.Context) (Backend, error)

// EthclientDialer dials url with ethclient.
func EthclientDialer(url string) DialFunc {
	return func(ctx context.Context) (Backend, error) {
		return ethclient.DialContext(ctx, url)
	}
}

// Conn is a Backend that re-dials its endpoint when the connection drops.
// Reconnection uses a fixed delay and a bounded number of attempts; once the
// budget is spent every call fails with ErrChainUnreachable until a later
// call manages to reconnect.
type Conn struct {
	universe string
	dial     DialFunc
	attempts uint64
	delay    time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	backend Backend
	gen     uint64

	reconnectMu sync.Mutex
	unreachable atomic.Bool
}

// NewConn dials the endpoint with the reconnect policy and returns the live connection.
func NewConn(ctx context.Context, universe string, dial DialFunc, attempts uint64, delay time.Duration, logger *zap.Logger) (*Conn, error) {
	if attempts == 0 {
		attempts = 1
	}
	c := &Conn{
		universe: universe,
		dial:     dial,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
	}
	if err := c.reconnect(ctx, 0); err != nil {
		return nil, err
	}
	return c, nil
}

// Reachable reports whether the last reconnect cycle succeeded.
func (c *Conn) Reachable() bool {
	return !c.unreachable.Load()
}

func (c *Conn) current() (Backend, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend, c.gen
}

// reconnect replaces the backend unless another caller already did so
// after generation seen.
func (c *Conn) reconnect(ctx context.Context, seen uint64) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if _, gen := c.current(); gen != seen {
		return nil
	}

	var attempt uint64
	op := func() error {
		attempt++
		b, err := c.dial(ctx)
		if err != nil {
			return err
		}
		if _, err := b.ChainID(ctx); err != nil {
			b.Close()
			return err
		}
		c.mu.Lock()
		old := c.backend
		c.backend = b
		c.gen++
		c.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), c.attempts-1),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		c.logger.Warn("Chain connection attempt failed",
			zap.Uint64("attempt", attempt),
			zap.Uint64("max_attempts", c.attempts),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		c.unreachable.Store(true)
		metrics.ChainReachable.WithLabelValues(c.universe).Set(0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrChainUnreachable, c.universe, attempt, err)
	}

	c.unreachable.Store(false)
	metrics.ChainReachable.WithLabelValues(c.universe).Set(1)
	if seen != 0 {
		c.logger.Info("Chain connection re-established")
	}
	return nil
}

// call runs fn against the live backend, reconnecting once on a transport error.
func (c *Conn) call(ctx context.Context, fn func(Backend) error) error {
	b, gen := c.current()
	if b == nil {
		return fmt.Errorf("%w: %s: connection closed", ErrChainUnreachable, c.universe)
	}
	err := fn(b)
	if err == nil || !isTransportError(err) || ctx.Err() != nil {
		return err
	}

	c.logger.Warn("Chain connection lost, reconnecting",
		zap.Error(err))
	if rerr := c.reconnect(ctx, gen); rerr != nil {
		return rerr
	}
	b, _ = c.current()
	return fn(b)
}

func isTransportError(err error) bool {
	if errors.Is(err, rpc.ErrClientQuit) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "broken pipe", "connection refused", "use of closed network connection", "websocket: close"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Conn) ChainID(ctx context.Context) (id *big.Int, err error) {
	err = c.call(ctx, func(b Backend) error {
		id, err = b.ChainID(ctx)
		return err
	})
	return id, err
}

func (c *Conn) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = c.call(ctx, func(b Backend) error {
		n, err = b.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (c *Conn) HeaderByNumber(ctx context.Context, number *big.Int) (h *types.Header, err error) {
	err = c.call(ctx, func(b Backend) error {
		h, err = b.HeaderByNumber(ctx, number)
		return err
	})
	return h, err
}

func (c *Conn) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	err = c.call(ctx, func(b Backend) error {
		out, err = b.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (c *Conn) EstimateGas(ctx context.Context, msg geth.CallMsg) (gas uint64, err error) {
	err = c.call(ctx, func(b Backend) error {
		gas, err = b.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

func (c *Conn) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	err = c.call(ctx, func(b Backend) error {
		nonce, err = b.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

func (c *Conn) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (nonce uint64, err error) {
	err = c.call(ctx, func(b Backend) error {
		nonce, err = b.NonceAt(ctx, account, blockNumber)
		return err
	})
	return nonce, err
}

func (c *Conn) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	err = c.call(ctx, func(b Backend) error {
		price, err = b.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// SendTransaction may resend the same signed transaction after a reconnect;
// the Balancer treats "already known" as success.
func (c *Conn) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, func(b Backend) error {
		return b.SendTransaction(ctx, tx)
	})
}

func (c *Conn) TransactionReceipt(ctx context.Context, txHash common.Hash) (r *types.Receipt, err error) {
	err = c.call(ctx, func(b Backend) error {
		r, err = b.TransactionReceipt(ctx, txHash)
		return err
	})
	return r, err
}

func (c *Conn) FilterLogs(ctx context.Context, q geth.FilterQuery) (logs []types.Log, err error) {
	err = c.call(ctx, func(b Backend) error {
		logs, err = b.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

func (c *Conn) SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (sub geth.Subscription, err error) {
	err = c.call(ctx, func(b Backend) error {
		sub, err = b.SubscribeFilterLogs(ctx, q, ch)
		return err
	})
	return sub, err
}

// Close closes the live connection.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}
