package relayer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsafe/nft-migration-relay/pkg/db"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
)

// MockChain is a function-field ChainAdapter. Unset reads succeed with
// zero values; unset transactions return an empty successful receipt.
type MockChain struct {
	ID     string
	Signer *ethereum.Signer

	ReachableFunc                    func() bool
	IsErc721Func                     func(contract common.Address) bool
	IsOwnerFunc                      func(contract common.Address, tokenID *big.Int, owner string) bool
	GetTokenURIFunc                  func(contract common.Address, tokenID *big.Int) (string, error)
	SetTokenURIFunc                  func(contract common.Address, tokenID *big.Int, uri string) (*types.Receipt, error)
	PremintTokenFunc                 func(contract, bridge common.Address, track ethereum.Track) (*big.Int, error)
	PremintedTokenFunc               func(receipt *types.Receipt, contract, bridge common.Address) (*big.Int, error)
	TransactionReceiptFunc           func(txHash common.Hash) (*types.Receipt, error)
	ConfirmedNonceFunc               func() (uint64, error)
	MigrateToERC721IOUFunc           func(p ethereum.DepartureParams, track ethereum.Track) (*ethereum.Departure, error)
	RecoverDepartureFunc             func(bridge common.Address, txHash common.Hash, originOwner string) (*ethereum.Departure, error)
	GetProofOfEscrowHashFunc         func(bridge common.Address, migrationHash common.Hash) (common.Hash, error)
	RegisterEscrowHashSignatureFunc  func(bridge common.Address, migrationHash common.Hash, signature []byte, track ethereum.Track) (*types.Receipt, error)
	MigrateFromIOUERC721ToERC721Func func(p ethereum.ArrivalParams, track ethereum.Track) (*types.Receipt, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockChain) called(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how often method was invoked.
func (m *MockChain) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockChain) UniverseID() string {
	return m.ID
}

func (m *MockChain) Address() common.Address {
	return m.Signer.Address()
}

func (m *MockChain) Reachable() bool {
	if m.ReachableFunc != nil {
		return m.ReachableFunc()
	}
	return true
}

func (m *MockChain) IsErc721(_ context.Context, contract common.Address) bool {
	m.called("IsErc721")
	if m.IsErc721Func != nil {
		return m.IsErc721Func(contract)
	}
	return true
}

func (m *MockChain) IsOwner(_ context.Context, contract common.Address, tokenID *big.Int, owner string) bool {
	m.called("IsOwner")
	if m.IsOwnerFunc != nil {
		return m.IsOwnerFunc(contract, tokenID, owner)
	}
	return true
}

func (m *MockChain) GetTokenURI(_ context.Context, contract common.Address, tokenID *big.Int) (string, error) {
	m.called("GetTokenURI")
	if m.GetTokenURIFunc != nil {
		return m.GetTokenURIFunc(contract, tokenID)
	}
	return "", nil
}

func (m *MockChain) SetTokenURI(_ context.Context, contract common.Address, tokenID *big.Int, uri string) (*types.Receipt, error) {
	m.called("SetTokenURI")
	if m.SetTokenURIFunc != nil {
		return m.SetTokenURIFunc(contract, tokenID, uri)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (m *MockChain) PremintToken(_ context.Context, contract, bridge common.Address, track ethereum.Track) (*big.Int, error) {
	m.called("PremintToken")
	if m.PremintTokenFunc != nil {
		return m.PremintTokenFunc(contract, bridge, track)
	}
	return big.NewInt(1), nil
}

func (m *MockChain) PremintedToken(_ context.Context, receipt *types.Receipt, contract, bridge common.Address) (*big.Int, error) {
	m.called("PremintedToken")
	if m.PremintedTokenFunc != nil {
		return m.PremintedTokenFunc(receipt, contract, bridge)
	}
	return big.NewInt(1), nil
}

func (m *MockChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.called("TransactionReceipt")
	if m.TransactionReceiptFunc != nil {
		return m.TransactionReceiptFunc(txHash)
	}
	return nil, nil
}

// ConfirmedNonce defaults to a nonce past everything the tests broadcast, so
// a missing receipt reads as a dropped transaction.
func (m *MockChain) ConfirmedNonce(_ context.Context) (uint64, error) {
	m.called("ConfirmedNonce")
	if m.ConfirmedNonceFunc != nil {
		return m.ConfirmedNonceFunc()
	}
	return 1 << 32, nil
}

func (m *MockChain) MigrateToERC721IOU(_ context.Context, p ethereum.DepartureParams, track ethereum.Track) (*ethereum.Departure, error) {
	m.called("MigrateToERC721IOU")
	if m.MigrateToERC721IOUFunc != nil {
		return m.MigrateToERC721IOUFunc(p, track)
	}
	return nil, ethereum.ErrEventNotObserved
}

func (m *MockChain) RecoverDeparture(_ context.Context, bridge common.Address, txHash common.Hash, originOwner string) (*ethereum.Departure, error) {
	m.called("RecoverDeparture")
	if m.RecoverDepartureFunc != nil {
		return m.RecoverDepartureFunc(bridge, txHash, originOwner)
	}
	return nil, nil
}

func (m *MockChain) GetProofOfEscrowHash(_ context.Context, bridge common.Address, migrationHash common.Hash) (common.Hash, error) {
	m.called("GetProofOfEscrowHash")
	if m.GetProofOfEscrowHashFunc != nil {
		return m.GetProofOfEscrowHashFunc(bridge, migrationHash)
	}
	return common.Hash{}, nil
}

func (m *MockChain) RegisterEscrowHashSignature(_ context.Context, bridge common.Address, migrationHash common.Hash, signature []byte, track ethereum.Track) (*types.Receipt, error) {
	m.called("RegisterEscrowHashSignature")
	if m.RegisterEscrowHashSignatureFunc != nil {
		return m.RegisterEscrowHashSignatureFunc(bridge, migrationHash, signature, track)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (m *MockChain) MigrateFromIOUERC721ToERC721(_ context.Context, p ethereum.ArrivalParams, track ethereum.Track) (*types.Receipt, error) {
	m.called("MigrateFromIOUERC721ToERC721")
	if m.MigrateFromIOUERC721ToERC721Func != nil {
		return m.MigrateFromIOUERC721ToERC721Func(p, track)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (m *MockChain) SignMessage(data []byte) ([]byte, error) {
	m.called("SignMessage")
	return m.Signer.SignMessage(data)
}

func (m *MockChain) VerifySignature(data, sig []byte, expected common.Address) bool {
	return ethereum.VerifySignature(data, sig, expected)
}

// MemStore is an in-memory MigrationStore that keeps every transition.
type MemStore struct {
	mu          sync.Mutex
	requests    map[string]migration.Request
	transitions []migration.Transition

	SaveTransitionFunc func(req *migration.Request, t migration.Transition) error
}

func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string]migration.Request)}
}

func (s *MemStore) CreateMigration(_ context.Context, req *migration.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.State.Terminal() || r.OriginUniverse != req.OriginUniverse || r.OriginWorld != req.OriginWorld || r.OriginTokenID != req.OriginTokenID {
			continue
		}
		return db.ErrActiveOrigin
	}
	s.requests[req.ID] = *req
	s.transitions = append(s.transitions, migration.Transition{RequestID: req.ID, To: req.State})
	return nil
}

func (s *MemStore) UpdateMigration(_ context.Context, req *migration.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return db.ErrMigrationNotFound
	}
	s.requests[req.ID] = *req
	return nil
}

func (s *MemStore) SaveTransition(_ context.Context, req *migration.Request, t migration.Transition) error {
	if s.SaveTransitionFunc != nil {
		if err := s.SaveTransitionFunc(req, t); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = *req
	s.transitions = append(s.transitions, t)
	return nil
}

func (s *MemStore) GetMigration(_ context.Context, opts ...db.QueryOption) (*migration.Request, error) {
	options := &db.QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if options.ID != nil && r.ID != *options.ID {
			continue
		}
		if options.MigrationHash != nil && r.MigrationHash != *options.MigrationHash {
			continue
		}
		req := r
		return &req, nil
	}
	return nil, db.ErrMigrationNotFound
}

func (s *MemStore) ListMigrations(_ context.Context, opts ...db.QueryOption) ([]*migration.Request, error) {
	options := &db.QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*migration.Request
	for _, r := range s.requests {
		if len(options.States) > 0 && !containsState(options.States, r.State) {
			continue
		}
		if !matches(options.Universe, r.OriginUniverse) || !matches(options.OriginWorld, r.OriginWorld) || !matches(options.OriginTokenID, r.OriginTokenID) {
			continue
		}
		req := r
		out = append(out, &req)
	}
	return out, nil
}

func (s *MemStore) ListTransitions(_ context.Context, requestID string) ([]migration.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []migration.Transition
	for _, t := range s.transitions {
		if t.RequestID == requestID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemStore) CountByState(_ context.Context) (map[migration.State]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[migration.State]int)
	for _, r := range s.requests {
		counts[r.State]++
	}
	return counts, nil
}

// Put stores req as is, bypassing the initial transition.
func (s *MemStore) Put(req migration.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
}

// Snapshot returns the stored copy of a request.
func (s *MemStore) Snapshot(id string) migration.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func matches(want *string, got string) bool {
	return want == nil || *want == got
}

func containsState(states []migration.State, s migration.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
