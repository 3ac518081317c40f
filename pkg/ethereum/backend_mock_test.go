package ethereum

import (
	"context"
	"math/big"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

var testBlockHash = common.HexToHash("0xb10c")

// fakeChain is an in-memory Backend. Transactions are mined on send unless
// holdMining is set; the Func fields override individual calls.
type fakeChain struct {
	mu sync.Mutex

	chainID     *big.Int
	head        uint64
	minedAt     uint64
	pending     uint64
	confirmed   uint64
	gasPrice    *big.Int
	holdMining  bool
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	nonceQuery  int
	closedCount int

	// logsFor builds the logs of a mined transaction.
	logsFor func(tx *types.Transaction) []*types.Log

	BlockNumberFunc         func() (uint64, error)
	CallContractFunc        func(msg geth.CallMsg, block *big.Int) ([]byte, error)
	EstimateGasFunc         func(msg geth.CallMsg) (uint64, error)
	PendingNonceAtFunc      func() (uint64, error)
	NonceAtFunc             func() (uint64, error)
	SendTransactionFunc     func(tx *types.Transaction) error
	TransactionReceiptFunc  func(hash common.Hash) (*types.Receipt, error)
	FilterLogsFunc          func(q geth.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogsFunc func(q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error)
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:  big.NewInt(1337),
		head:     100,
		minedAt:  90,
		pending:  5,
		gasPrice: big.NewInt(params.GWei),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if f.BlockNumberFunc != nil {
		return f.BlockNumberFunc()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := big.NewInt(int64(f.head))
	if number != nil {
		n = new(big.Int).Set(number)
	}
	return &types.Header{Number: n, Time: 1_700_000_000 + n.Uint64()}, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg geth.CallMsg, block *big.Int) ([]byte, error) {
	if f.CallContractFunc != nil {
		return f.CallContractFunc(msg, block)
	}
	return nil, nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error) {
	if f.EstimateGasFunc != nil {
		return f.EstimateGasFunc(msg)
	}
	return 100_000, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	f.nonceQuery++
	f.mu.Unlock()
	if f.PendingNonceAtFunc != nil {
		return f.PendingNonceAtFunc()
	}
	return f.pending, nil
}

func (f *fakeChain) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	if f.NonceAtFunc != nil {
		return f.NonceAtFunc()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.SendTransactionFunc != nil {
		if err := f.SendTransactionFunc(tx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if !f.holdMining {
		f.mineLocked(tx, types.ReceiptStatusSuccessful)
	}
	return nil
}

// mine records a receipt for tx at the configured block.
func (f *fakeChain) mine(tx *types.Transaction, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked(tx, status)
}

func (f *fakeChain) mineLocked(tx *types.Transaction, status uint64) {
	r := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.minedAt),
		BlockHash:   testBlockHash,
		GasUsed:     60_000,
	}
	if f.logsFor != nil {
		for _, lg := range f.logsFor(tx) {
			lg.TxHash = tx.Hash()
			lg.BlockNumber = f.minedAt
			lg.BlockHash = testBlockHash
			r.Logs = append(r.Logs, lg)
		}
	}
	f.receipts[tx.Hash()] = r
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.TransactionReceiptFunc != nil {
		return f.TransactionReceiptFunc(hash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, geth.NotFound
	}
	return r, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error) {
	if f.FilterLogsFunc != nil {
		return f.FilterLogsFunc(q)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, r := range f.receipts {
		for _, lg := range r.Logs {
			out = append(out, *lg)
		}
	}
	return out, nil
}

func (f *fakeChain) SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error) {
	if f.SubscribeFilterLogsFunc != nil {
		return f.SubscribeFilterLogsFunc(q, ch)
	}
	return nil, geth.NotFound
}

func (f *fakeChain) Close() {
	f.mu.Lock()
	f.closedCount++
	f.mu.Unlock()
}

func (f *fakeChain) sentTxs() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// fakeSubscription is a geth.Subscription driven by the test.
type fakeSubscription struct {
	errCh        chan error
	once         sync.Once
	unsubscribed chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1), unsubscribed: make(chan struct{})}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.unsubscribed) })
}

// memJournal records every journaled transaction state.
type memJournal struct {
	mu      sync.Mutex
	entries []PendingTransaction
}

func (j *memJournal) RecordTransaction(ctx context.Context, tx PendingTransaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, tx)
	return nil
}

func (j *memJournal) statuses() []TxStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TxStatus, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Status
	}
	return out
}
