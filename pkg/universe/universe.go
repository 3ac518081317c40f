// Package universe holds the set of connected chains the relay migrates between.
package universe

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
)

// ErrUnknownUniverse is returned when a lookup matches no configured chain.
var ErrUnknownUniverse = errors.New("unknown universe")

// Universe is a connected chain. It is immutable once the registry is built.
type Universe struct {
	ID      string
	Name    string
	ChainID int64
	Bridge  common.Address
	Targets []string
	Worlds  []common.Address

	Config config.UniverseConfig
}

// CanReach reports whether migrations towards target are allowed.
func (u *Universe) CanReach(target string) bool {
	return slices.Contains(u.Targets, target)
}

// HasWorld reports whether world is one of the IOU contracts served on this chain.
func (u *Universe) HasWorld(world common.Address) bool {
	return slices.Contains(u.Worlds, world)
}

// Registry indexes universes by unique id and by numeric chain id.
type Registry struct {
	ordered   []*Universe
	byID      map[string]*Universe
	byChainID map[int64]*Universe
}

// NewRegistry builds a registry from validated configuration.
func NewRegistry(cfgs []config.UniverseConfig) (*Registry, error) {
	r := &Registry{
		byID:      make(map[string]*Universe, len(cfgs)),
		byChainID: make(map[int64]*Universe, len(cfgs)),
	}
	for _, cfg := range cfgs {
		if _, ok := r.byID[cfg.ID]; ok {
			return nil, fmt.Errorf("duplicate universe id %q", cfg.ID)
		}
		if _, ok := r.byChainID[cfg.ChainID]; ok {
			return nil, fmt.Errorf("duplicate chain id %d", cfg.ChainID)
		}
		if !common.IsHexAddress(cfg.BridgeAddress) {
			return nil, fmt.Errorf("universe %q: invalid bridge address %q", cfg.ID, cfg.BridgeAddress)
		}

		u := &Universe{
			ID:      cfg.ID,
			Name:    cfg.Name,
			ChainID: cfg.ChainID,
			Bridge:  common.HexToAddress(cfg.BridgeAddress),
			Targets: slices.Clone(cfg.Targets),
			Config:  cfg,
		}
		for _, w := range cfg.Worlds {
			if !common.IsHexAddress(w) {
				return nil, fmt.Errorf("universe %q: invalid world address %q", cfg.ID, w)
			}
			u.Worlds = append(u.Worlds, common.HexToAddress(w))
		}

		r.ordered = append(r.ordered, u)
		r.byID[u.ID] = u
		r.byChainID[u.ChainID] = u
	}
	return r, nil
}

// ByID looks a universe up by its unique id.
func (r *Registry) ByID(id string) (*Universe, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUniverse, id)
	}
	return u, nil
}

// ByChainID looks a universe up by its numeric chain id.
func (r *Registry) ByChainID(chainID int64) (*Universe, error) {
	u, ok := r.byChainID[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrUnknownUniverse, chainID)
	}
	return u, nil
}

// All returns universes in configuration order.
func (r *Registry) All() []*Universe {
	return slices.Clone(r.ordered)
}
