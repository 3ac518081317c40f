package relayer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

func newQueryFixture(t *testing.T) (QueryService, *MockChain) {
	t.Helper()
	dest := &MockChain{ID: "moonbeam"}
	chains := Chains{"ethereum": &MockChain{ID: "ethereum"}, "moonbeam": dest}
	return NewQueryService(testRegistry(t), chains), dest
}

func TestQuery_GetAvailableWorlds(t *testing.T) {
	svc, _ := newQueryFixture(t)

	worlds, err := svc.GetAvailableWorlds(context.Background(), "moonbeam")
	if err != nil {
		t.Fatalf("GetAvailableWorlds failed: %v", err)
	}
	if len(worlds) != 1 || worlds[0] != iouWorld.Hex() {
		t.Errorf("expected [%s], got %v", iouWorld.Hex(), worlds)
	}

	worlds, err = svc.GetAvailableWorlds(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("GetAvailableWorlds failed: %v", err)
	}
	if len(worlds) != 0 {
		t.Errorf("expected no worlds, got %v", worlds)
	}

	if _, err := svc.GetAvailableWorlds(context.Background(), "nowhere"); !errors.Is(err, universe.ErrUnknownUniverse) {
		t.Errorf("expected ErrUnknownUniverse, got %v", err)
	}
}

func TestQuery_GetAvailableTokenIDPremintsToBridge(t *testing.T) {
	svc, dest := newQueryFixture(t)
	var gotContract, gotBridge common.Address
	dest.PremintTokenFunc = func(contract, bridge common.Address) (*big.Int, error) {
		gotContract, gotBridge = contract, bridge
		return big.NewInt(42), nil
	}

	id, err := svc.GetAvailableTokenID(context.Background(), "moonbeam", iouWorld.Hex())
	if err != nil {
		t.Fatalf("GetAvailableTokenID failed: %v", err)
	}
	if id != "42" {
		t.Errorf("expected token 42, got %s", id)
	}
	if gotContract != iouWorld || gotBridge != destBridge {
		t.Errorf("premint went to %s for %s", gotContract.Hex(), gotBridge.Hex())
	}
}

func TestQuery_GetAvailableTokenIDRejectsUnknownWorld(t *testing.T) {
	svc, dest := newQueryFixture(t)

	tests := []struct {
		name  string
		world string
	}{
		{"not an address", "iou"},
		{"not served", originWorld.Hex()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GetAvailableTokenID(context.Background(), "moonbeam", tt.world); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if n := dest.Calls("PremintToken"); n != 0 {
		t.Errorf("expected no premint, got %d", n)
	}
}

func TestQuery_ConcurrentPremintsGetDistinctIDs(t *testing.T) {
	svc, dest := newQueryFixture(t)
	var (
		mu   sync.Mutex
		next int64
	)
	dest.PremintTokenFunc = func(common.Address, common.Address) (*big.Int, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return big.NewInt(next), nil
	}

	const n = 8
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.GetAvailableTokenID(context.Background(), "moonbeam", iouWorld.Hex())
			if err != nil {
				t.Errorf("GetAvailableTokenID failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("token id %s handed out twice", id)
		}
		seen[id] = true
	}
}

func TestQuery_GetTokenURI(t *testing.T) {
	svc, dest := newQueryFixture(t)
	dest.GetTokenURIFunc = func(contract common.Address, tokenID *big.Int) (string, error) {
		if contract != iouWorld || tokenID.Int64() != 3 {
			return "", errors.New("unexpected token")
		}
		return "ipfs://iou/3", nil
	}

	uri, err := svc.GetTokenURI(context.Background(), "moonbeam", iouWorld.Hex(), "3")
	if err != nil {
		t.Fatalf("GetTokenURI failed: %v", err)
	}
	if uri != "ipfs://iou/3" {
		t.Errorf("unexpected uri %q", uri)
	}

	if _, err := svc.GetTokenURI(context.Background(), "moonbeam", iouWorld.Hex(), "-1"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for negative id, got %v", err)
	}
}

func TestLogQueryService_LogsPremintAndFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc, dest := newQueryFixture(t)
	logged := NewLogQueryService(svc, zap.New(core))

	if _, err := logged.GetAvailableTokenID(context.Background(), "moonbeam", iouWorld.Hex()); err != nil {
		t.Fatalf("GetAvailableTokenID failed: %v", err)
	}
	if got := logs.FilterMessage("IOU token preminted").Len(); got != 1 {
		t.Errorf("expected one premint log, got %d", got)
	}

	dest.GetTokenURIFunc = func(common.Address, *big.Int) (string, error) {
		return "", errors.New("execution reverted")
	}
	if _, err := logged.GetTokenURI(context.Background(), "moonbeam", iouWorld.Hex(), "3"); err == nil {
		t.Fatal("expected error")
	}
	failed := logs.FilterMessage("GetTokenURI failed").All()
	if len(failed) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failed))
	}
	if failed[0].Level != zapcore.ErrorLevel {
		t.Errorf("expected error level, got %s", failed[0].Level)
	}
}
