package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
	"github.com/chainsafe/nft-migration-relay/pkg/relayer"
)

// MockService is a testify mock of Service.
type MockService struct {
	mock.Mock
}

func newMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockService {
	m := &MockService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockService) GetAvailableWorlds(ctx context.Context, universeID string) ([]string, error) {
	args := m.Called(ctx, universeID)
	worlds, _ := args.Get(0).([]string)
	return worlds, args.Error(1)
}

func (m *MockService) GetAvailableTokenID(ctx context.Context, universeID, world string) (string, error) {
	args := m.Called(ctx, universeID, world)
	return args.String(0), args.Error(1)
}

func (m *MockService) GetTokenURI(ctx context.Context, universeID, world, tokenID string) (string, error) {
	args := m.Called(ctx, universeID, world, tokenID)
	return args.String(0), args.Error(1)
}

func (m *MockService) SubmitMigration(ctx context.Context, in relayer.SubmitRequest) (*migration.Request, error) {
	args := m.Called(ctx, in)
	req, _ := args.Get(0).(*migration.Request)
	return req, args.Error(1)
}

func (m *MockService) GetMigration(ctx context.Context, ref string) (*migration.Request, error) {
	args := m.Called(ctx, ref)
	req, _ := args.Get(0).(*migration.Request)
	return req, args.Error(1)
}

func (m *MockService) ListMigrations(ctx context.Context, state string, limit int) ([]*migration.Request, error) {
	args := m.Called(ctx, state, limit)
	reqs, _ := args.Get(0).([]*migration.Request)
	return reqs, args.Error(1)
}

func (m *MockService) ListTransitions(ctx context.Context, ref string) ([]migration.Transition, error) {
	args := m.Called(ctx, ref)
	ts, _ := args.Get(0).([]migration.Transition)
	return ts, args.Error(1)
}

func (m *MockService) RetryMigration(ctx context.Context, id string) (*migration.Request, error) {
	args := m.Called(ctx, id)
	req, _ := args.Get(0).(*migration.Request)
	return req, args.Error(1)
}

func (m *MockService) ListTransactions(ctx context.Context, filter TransactionFilter, limit int) ([]ethereum.PendingTransaction, error) {
	args := m.Called(ctx, filter, limit)
	txs, _ := args.Get(0).([]ethereum.PendingTransaction)
	return txs, args.Error(1)
}
