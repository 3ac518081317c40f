package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/nft-migration-relay/pkg/codec"
	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum/contracts"
)

// Client is the chain adapter of one universe. Reads go straight to the
// backend; every state-changing call is routed through the Balancer.
type Client struct {
	cfg          *config.UniverseConfig
	backend      Backend
	signer       *Signer
	balancer     *Balancer
	logger       *zap.Logger
	eventTimeout time.Duration

	erc165 *abi.ABI
	erc721 *abi.ABI
	iou    *abi.ABI
	bridge *abi.ABI

	premintMu sync.Mutex
}

// NewClient dials the universe endpoint and checks it serves the configured chain.
func NewClient(ctx context.Context, cfg *config.UniverseConfig, signer *Signer, journal TxJournal, eventTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	conn, err := NewConn(ctx, cfg.ID, EthclientDialer(cfg.Endpoint()), cfg.ReconnectAttempts, cfg.ReconnectDelay, config.UniverseLogger(logger, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to universe %s: %w", cfg.ID, err)
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		conn.Close()
		return nil, fmt.Errorf("universe %s: endpoint serves chain %s, expected %d", cfg.ID, chainID, cfg.ChainID)
	}

	c, err := NewClientWithBackend(cfg, conn, signer, journal, eventTimeout, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.logger.Info("Connected to universe",
		zap.String("endpoint", cfg.Endpoint()),
		zap.String("bridge_contract", cfg.BridgeAddress),
		zap.String("relayer_address", signer.Address().Hex()))
	return c, nil
}

// NewClientWithBackend builds a Client on an already connected backend. Its
// logs and those of its balancer are scoped to the universe.
func NewClientWithBackend(cfg *config.UniverseConfig, backend Backend, signer *Signer, journal TxJournal, eventTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	logger = config.UniverseLogger(logger, cfg)
	bcfg, err := NewBalancerConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		backend:      backend,
		signer:       signer,
		balancer:     NewBalancer(bcfg, backend, signer, journal, logger),
		logger:       logger,
		eventTimeout: eventTimeout,
	}
	for _, m := range []struct {
		dst  **abi.ABI
		meta interface{ GetAbi() (*abi.ABI, error) }
	}{
		{&c.erc165, contracts.ERC165MetaData},
		{&c.erc721, contracts.ERC721MetaData},
		{&c.iou, contracts.ERC721IOUMetaData},
		{&c.bridge, contracts.BridgeMetaData},
	} {
		parsed, err := m.meta.GetAbi()
		if err != nil {
			return nil, fmt.Errorf("failed to parse contract abi: %w", err)
		}
		*m.dst = parsed
	}
	return c, nil
}

// Close closes the underlying connection
func (c *Client) Close() {
	c.backend.Close()
}

// UniverseID returns the id of the universe this client serves.
func (c *Client) UniverseID() string {
	return c.cfg.ID
}

// Address returns the relay account address.
func (c *Client) Address() common.Address {
	return c.signer.Address()
}

// BridgeAddress returns the configured bridge of the universe.
func (c *Client) BridgeAddress() common.Address {
	return common.HexToAddress(c.cfg.BridgeAddress)
}

// Reachable reports whether the endpoint answered the last reconnect cycle.
func (c *Client) Reachable() bool {
	if r, ok := c.backend.(interface{ Reachable() bool }); ok {
		return r.Reachable()
	}
	return true
}

// LatestBlock returns the current head of the chain.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return n, nil
}

// TransactionReceipt returns the receipt of txHash, or nil when the chain does not know it.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, geth.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", txHash.Hex(), err)
	}
	return receipt, nil
}

// ConfirmedNonce returns the nonce of the relay account at the head block.
// Every nonce below it belongs to a mined transaction.
func (c *Client) ConfirmedNonce(ctx context.Context) (uint64, error) {
	n, err := c.backend.NonceAt(ctx, c.signer.Address(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get confirmed nonce: %w", err)
	}
	return n, nil
}

func (c *Client) call(ctx context.Context, parsed *abi.ABI, to common.Address, blockNumber *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, geth.CallMsg{From: c.signer.Address(), To: &to, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	res, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return res, nil
}

func (c *Client) transact(ctx context.Context, parsed *abi.ABI, to common.Address, track Track, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return c.balancer.Send(ctx, TxRequest{
		To:    to,
		Data:  data,
		Label: method,
		Track: track,
	})
}

// IsErc721 reports whether contract advertises ERC-721 through ERC-165.
// Any failure counts as not compliant.
func (c *Client) IsErc721(ctx context.Context, contract common.Address) bool {
	out, err := c.call(ctx, c.erc165, contract, nil, contracts.MethodSupportsInterface, contracts.ERC721InterfaceID)
	if err != nil {
		c.logger.Debug("ERC-165 check failed",
			zap.String("contract", contract.Hex()),
			zap.Error(err))
		return false
	}
	ok, _ := out[0].(bool)
	return ok
}

// IsOwner compares owner with ownerOf(tokenID) case-insensitively.
// Any failure returns false.
func (c *Client) IsOwner(ctx context.Context, contract common.Address, tokenID *big.Int, owner string) bool {
	out, err := c.call(ctx, c.erc721, contract, nil, contracts.MethodOwnerOf, tokenID)
	if err != nil {
		c.logger.Debug("ownerOf failed",
			zap.String("contract", contract.Hex()),
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return false
	}
	got, ok := out[0].(common.Address)
	return ok && strings.EqualFold(got.Hex(), strings.TrimSpace(owner))
}

// GetTokenURI returns tokenURI(tokenID).
func (c *Client) GetTokenURI(ctx context.Context, contract common.Address, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, c.erc721, contract, nil, contracts.MethodTokenURI, tokenID)
	if err != nil {
		return "", err
	}
	uri, _ := out[0].(string)
	return uri, nil
}

// SetTokenURI sets the metadata URI of an IOU token.
func (c *Client) SetTokenURI(ctx context.Context, contract common.Address, tokenID *big.Int, uri string) (*types.Receipt, error) {
	return c.transact(ctx, c.iou, contract, Track{}, contracts.MethodSetTokenURI, tokenID, uri)
}

// PremintToken premints an IOU token held by bridge and returns its id.
// Premints on one client are serialized so the mintedTokens() fallback of
// PremintedToken reads the counter of this premint.
func (c *Client) PremintToken(ctx context.Context, contract, bridge common.Address, track Track) (*big.Int, error) {
	c.premintMu.Lock()
	defer c.premintMu.Unlock()

	receipt, err := c.transact(ctx, c.iou, contract, track, contracts.MethodPremintFor, bridge)
	if err != nil {
		return nil, err
	}
	tokenID, err := c.PremintedToken(ctx, receipt, contract, bridge)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Preminted token",
		zap.String("world", contract.Hex()),
		zap.String("token_id", tokenID.String()),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return tokenID, nil
}

// PremintedToken reads the id minted by a premintFor receipt from its
// Transfer log, falling back to mintedTokens() at the mining block.
func (c *Client) PremintedToken(ctx context.Context, receipt *types.Receipt, contract, bridge common.Address) (*big.Int, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &TxError{Cause: CauseReverted, Reason: "premint transaction reverted", TxHash: receipt.TxHash}
	}
	if tokenID := c.mintedTokenFromLogs(receipt, contract, bridge); tokenID != nil {
		return tokenID, nil
	}
	out, err := c.call(ctx, c.iou, contract, receipt.BlockNumber, contracts.MethodMintedTokens)
	if err != nil {
		return nil, err
	}
	tokenID, _ := out[0].(*big.Int)
	if tokenID == nil {
		return nil, fmt.Errorf("mintedTokens returned no value")
	}
	return tokenID, nil
}

func (c *Client) mintedTokenFromLogs(receipt *types.Receipt, contract, to common.Address) *big.Int {
	transfer, ok := c.iou.Events[contracts.EventTransfer]
	if !ok {
		return nil
	}
	for _, lg := range receipt.Logs {
		if lg.Address != contract || len(lg.Topics) != 4 || lg.Topics[0] != transfer.ID {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != (common.Address{}) ||
			common.BytesToAddress(lg.Topics[2].Bytes()) != to {
			continue
		}
		return lg.Topics[3].Big()
	}
	return nil
}

// SafeTransferFrom moves tokenID from one account to another.
func (c *Client) SafeTransferFrom(ctx context.Context, contract, from, to common.Address, tokenID *big.Int) (*types.Receipt, error) {
	return c.transact(ctx, c.erc721, contract, Track{}, contracts.MethodSafeTransferFrom, from, to, tokenID)
}

// WatchDeparture opens a departure listener on bridge for signee.
func (c *Client) WatchDeparture(ctx context.Context, bridge common.Address, signee [32]byte) (*DepartureWatch, error) {
	event, ok := c.bridge.Events[contracts.EventDeparturePreRegister]
	if !ok {
		return nil, fmt.Errorf("bridge abi has no %s event", contracts.EventDeparturePreRegister)
	}
	return newDepartureWatch(ctx, c.backend, c.cfg.ID, event, bridge, common.Hash(signee), c.cfg.ReceiptPollInterval, c.logger)
}

// MigrateToERC721IOU registers a departure on the origin bridge. The event
// listener is installed before the transaction is submitted and torn down
// before returning.
func (c *Client) MigrateToERC721IOU(ctx context.Context, p DepartureParams, track Track) (*Departure, error) {
	args, signee, err := encodeDeparture(p)
	if err != nil {
		return nil, err
	}

	watch, err := c.WatchDeparture(ctx, p.OriginBridge, signee)
	if err != nil {
		return nil, err
	}
	defer watch.Close()

	receipt, err := c.transact(ctx, c.bridge, p.OriginBridge, track, contracts.MethodMigrateToIOU, args...)
	if err != nil {
		return nil, err
	}

	departure, err := watch.Wait(ctx, receipt.TxHash, receipt, c.eventTimeout)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Departure registered",
		zap.String("migration_hash", departure.MigrationHash.Hex()),
		zap.Uint64("block", departure.BlockNumber),
		zap.Uint64("block_timestamp", departure.BlockTimestamp))
	return departure, nil
}

func encodeDeparture(p DepartureParams) ([]interface{}, [32]byte, error) {
	var signee [32]byte
	fields := []struct {
		name string
		val  string
	}{
		{"destination universe", p.DestinationUniverse},
		{"destination bridge", p.DestinationBridge},
		{"destination world", p.DestinationWorld},
	}
	encoded := make([][32]byte, 0, len(fields))
	for _, f := range fields {
		b, err := codec.AddressOrStringToBytes32(f.val)
		if err != nil {
			return nil, signee, fmt.Errorf("%s: %w", f.name, err)
		}
		encoded = append(encoded, b)
	}

	destTokenID, err := codec.NumberToBytes32(p.DestinationTokenID)
	if err != nil {
		return nil, signee, fmt.Errorf("destination token id: %w", err)
	}
	destOwner, err := codec.AddressOrStringToBytes32(p.DestinationOwner)
	if err != nil {
		return nil, signee, fmt.Errorf("destination owner: %w", err)
	}
	signee, err = codec.AddressOrStringToBytes32(p.OriginOwner)
	if err != nil {
		return nil, signee, fmt.Errorf("origin owner: %w", err)
	}

	return []interface{}{
		p.OriginWorld,
		p.OriginTokenID,
		encoded[0],
		encoded[1],
		encoded[2],
		destTokenID,
		destOwner,
		signee,
	}, signee, nil
}

// RecoverDeparture reads the departure event back from a mined departure
// transaction. It returns nil when the transaction is not known yet.
func (c *Client) RecoverDeparture(ctx context.Context, bridge common.Address, txHash common.Hash, originOwner string) (*Departure, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, geth.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get departure receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, &TxError{Cause: CauseReverted, Reason: "departure transaction reverted", TxHash: txHash}
	}

	signee, err := codec.AddressOrStringToBytes32(originOwner)
	if err != nil {
		return nil, fmt.Errorf("origin owner: %w", err)
	}
	event := c.bridge.Events[contracts.EventDeparturePreRegister]
	w := &DepartureWatch{
		backend:  c.backend,
		universe: c.cfg.ID,
		event:    event,
		query: geth.FilterQuery{
			Addresses: []common.Address{bridge},
			Topics:    [][]common.Hash{{event.ID}, nil, nil, {common.Hash(signee)}},
		},
		logger: c.logger,
	}
	for _, lg := range receipt.Logs {
		if d, ok := w.match(ctx, *lg, txHash); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: tx %s has no departure log", ErrEventNotObserved, txHash.Hex())
}

// GetProofOfEscrowHash reads the escrow hash the bridge derived for migrationHash.
// A zero hash means the proof is not available.
func (c *Client) GetProofOfEscrowHash(ctx context.Context, bridge common.Address, migrationHash common.Hash) (common.Hash, error) {
	out, err := c.call(ctx, c.bridge, bridge, nil, contracts.MethodProofOfEscrowHash, [32]byte(migrationHash))
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected %s result type %T", contracts.MethodProofOfEscrowHash, out[0])
	}
	return common.Hash(raw), nil
}

// RegisterEscrowHashSignature publishes the relay signature of the escrow hash.
func (c *Client) RegisterEscrowHashSignature(ctx context.Context, bridge common.Address, migrationHash common.Hash, signature []byte, track Track) (*types.Receipt, error) {
	return c.transact(ctx, c.bridge, bridge, track, contracts.MethodRegisterSignature, [32]byte(migrationHash), signature)
}

// MigrateFromIOUERC721ToERC721 redeems a migration on the destination bridge.
func (c *Client) MigrateFromIOUERC721ToERC721(ctx context.Context, p ArrivalParams, track Track) (*types.Receipt, error) {
	args, err := encodeArrival(p)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, c.bridge, p.DestinationBridge, track, contracts.MethodMigrateFromIOU, args...)
}

func encodeArrival(p ArrivalParams) ([]interface{}, error) {
	fields := []struct {
		name string
		val  string
	}{
		{"origin universe", p.OriginUniverse},
		{"origin bridge", p.OriginBridge},
		{"origin world", p.OriginWorld},
	}
	encoded := make([][32]byte, 0, len(fields)+2)
	for _, f := range fields {
		b, err := codec.AddressOrStringToBytes32(f.val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		encoded = append(encoded, b)
	}
	originTokenID, err := codec.NumberToBytes32(p.OriginTokenID)
	if err != nil {
		return nil, fmt.Errorf("origin token id: %w", err)
	}
	originOwner, err := codec.AddressOrStringToBytes32(p.OriginOwner)
	if err != nil {
		return nil, fmt.Errorf("origin owner: %w", err)
	}
	if !common.IsHexAddress(p.OriginOwner) {
		return nil, fmt.Errorf("origin owner %q: %w", p.OriginOwner, codec.ErrNotAnAddress)
	}

	return []interface{}{
		encoded[0],
		encoded[1],
		encoded[2],
		originTokenID,
		originOwner,
		p.DestinationWorld,
		p.DestinationTokenID,
		p.DestinationOwner,
		common.HexToAddress(p.OriginOwner),
		codec.Uint64ToBytes32(p.BlockTimestamp),
		p.Signature,
	}, nil
}

// SignMessage signs data with the relay key using the personal message prefix.
func (c *Client) SignMessage(data []byte) ([]byte, error) {
	return c.signer.SignMessage(data)
}

// HashMessage returns the prefixed digest SignMessage signs.
func (c *Client) HashMessage(data []byte) common.Hash {
	return HashMessage(data)
}

// RecoverSigner returns the address that produced sig over data.
func (c *Client) RecoverSigner(data, sig []byte) (common.Address, error) {
	return RecoverSigner(data, sig)
}

// VerifySignature reports whether sig over data was produced by expected.
func (c *Client) VerifySignature(data, sig []byte, expected common.Address) bool {
	return VerifySignature(data, sig, expected)
}
