package universe

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/nft-migration-relay/pkg/config"
)

func testConfigs() []config.UniverseConfig {
	return []config.UniverseConfig{
		{
			ID:            "0x01",
			Name:          "Moonbase",
			ChainID:       1287,
			BridgeAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			Targets:       []string{"0x02"},
			Worlds:        []string{"0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"},
		},
		{
			ID:            "0x02",
			ChainID:       4,
			BridgeAddress: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0",
		},
	}
}

func TestRegistryLookups(t *testing.T) {
	r, err := NewRegistry(testConfigs())
	require.NoError(t, err)

	u, err := r.ByID("0x01")
	require.NoError(t, err)
	assert.Equal(t, int64(1287), u.ChainID)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), u.Bridge)
	assert.True(t, u.CanReach("0x02"))
	assert.False(t, u.CanReach("0x03"))
	assert.True(t, u.HasWorld(common.HexToAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")))

	byChain, err := r.ByChainID(4)
	require.NoError(t, err)
	assert.Equal(t, "0x02", byChain.ID)

	_, err = r.ByID("0x09")
	assert.True(t, errors.Is(err, ErrUnknownUniverse))
	_, err = r.ByChainID(1)
	assert.True(t, errors.Is(err, ErrUnknownUniverse))

	assert.Len(t, r.All(), 2)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	cfgs := testConfigs()
	cfgs[1].ChainID = cfgs[0].ChainID
	_, err := NewRegistry(cfgs)
	assert.Error(t, err)

	cfgs = testConfigs()
	cfgs[1].ID = cfgs[0].ID
	_, err = NewRegistry(cfgs)
	assert.Error(t, err)
}

func TestRegistryIsImmutableFromOutside(t *testing.T) {
	cfgs := testConfigs()
	r, err := NewRegistry(cfgs)
	require.NoError(t, err)

	cfgs[0].Targets[0] = "0x99"
	u, err := r.ByID("0x01")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x02"}, u.Targets)
}
