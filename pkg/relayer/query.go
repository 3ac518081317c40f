package relayer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/nft-migration-relay/pkg/codec"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

// QueryService answers the read-mostly calls of the migration frontend.
type QueryService interface {
	// GetAvailableWorlds lists the IOU contracts a universe serves.
	GetAvailableWorlds(ctx context.Context, universeID string) ([]string, error)
	// GetAvailableTokenID premints a fresh IOU token held by the universe's bridge.
	GetAvailableTokenID(ctx context.Context, universeID, world string) (string, error)
	GetTokenURI(ctx context.Context, universeID, world, tokenID string) (string, error)
}

type queryService struct {
	universes *universe.Registry
	chains    Chains
}

// NewQueryService creates a new QueryService
func NewQueryService(universes *universe.Registry, chains Chains) QueryService {
	return &queryService{universes: universes, chains: chains}
}

func (s *queryService) GetAvailableWorlds(_ context.Context, universeID string) ([]string, error) {
	u, err := s.universes.ByID(universeID)
	if err != nil {
		return nil, err
	}
	worlds := make([]string, len(u.Worlds))
	for i, w := range u.Worlds {
		worlds[i] = w.Hex()
	}
	return worlds, nil
}

func (s *queryService) GetAvailableTokenID(ctx context.Context, universeID, world string) (string, error) {
	u, chain, err := s.lookup(universeID)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(world) {
		return "", fmt.Errorf("%w: %q is not an address", ErrInvalidRequest, world)
	}
	addr := common.HexToAddress(world)
	if !u.HasWorld(addr) {
		return "", fmt.Errorf("%w: %s is not an IOU world of %s", ErrInvalidRequest, addr.Hex(), u.ID)
	}

	tokenID, err := chain.PremintToken(ctx, addr, u.Bridge, ethereum.Track{})
	if err != nil {
		return "", fmt.Errorf("failed to premint token: %w", err)
	}
	return tokenID.String(), nil
}

func (s *queryService) GetTokenURI(ctx context.Context, universeID, world, tokenID string) (string, error) {
	_, chain, err := s.lookup(universeID)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(world) {
		return "", fmt.Errorf("%w: %q is not an address", ErrInvalidRequest, world)
	}
	id, err := codec.ParseTokenID(tokenID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return chain.GetTokenURI(ctx, common.HexToAddress(world), id)
}

func (s *queryService) lookup(universeID string) (*universe.Universe, ChainAdapter, error) {
	u, err := s.universes.ByID(universeID)
	if err != nil {
		return nil, nil, err
	}
	chain, err := s.chains.get(u.ID)
	if err != nil {
		return nil, nil, err
	}
	return u, chain, nil
}
