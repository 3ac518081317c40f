package db

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/nft-migration-relay/pkg/db/dao"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
)

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toRequestDao converts a migration.Request to MigrationRequestDao.
func toRequestDao(req *migration.Request) *dao.MigrationRequestDao {
	d := &dao.MigrationRequestDao{
		ID:                  req.ID,
		Type:                string(req.Type),
		OriginUniverse:      req.OriginUniverse,
		OriginWorld:         req.OriginWorld,
		OriginTokenID:       req.OriginTokenID,
		OriginOwner:         req.OriginOwner,
		DestinationUniverse: req.DestinationUniverse,
		DestinationBridge:   req.DestinationBridge,
		DestinationWorld:    req.DestinationWorld,
		DestinationTokenID:  optString(req.DestinationTokenID),
		DestinationOwner:    req.DestinationOwner,
		MigrationHash:       optString(req.MigrationHash),
		EscrowHash:          optString(req.EscrowHash),
		Signature:           optString(req.Signature),
		DepartureTxHash:     optString(req.DepartureTx.Latest()),
		RegistrationTxHash:  optString(req.RegistrationTx.Latest()),
		ArrivalTxHash:       optString(req.ArrivalTx.Latest()),
		PremintTxs:          toBroadcastDao(req.PremintTx),
		DepartureTxs:        toBroadcastDao(req.DepartureTx),
		RegistrationTxs:     toBroadcastDao(req.RegistrationTx),
		ArrivalTxs:          toBroadcastDao(req.ArrivalTx),
		State:               string(req.State),
		LastState:           optString(string(req.LastState)),
		FailureReason:       optString(req.FailureReason),
		CreatedAt:           req.CreatedAt,
		UpdatedAt:           req.UpdatedAt,
	}
	if req.BlockTimestamp != 0 {
		ts := int64(req.BlockTimestamp)
		d.BlockTimestamp = &ts
	}
	return d
}

// toRequest converts a MigrationRequestDao to migration.Request.
func toRequest(d *dao.MigrationRequestDao) *migration.Request {
	req := &migration.Request{
		ID:                  d.ID,
		Type:                migration.Type(d.Type),
		OriginUniverse:      d.OriginUniverse,
		OriginWorld:         d.OriginWorld,
		OriginTokenID:       d.OriginTokenID,
		OriginOwner:         d.OriginOwner,
		DestinationUniverse: d.DestinationUniverse,
		DestinationBridge:   d.DestinationBridge,
		DestinationWorld:    d.DestinationWorld,
		DestinationTokenID:  derefString(d.DestinationTokenID),
		DestinationOwner:    d.DestinationOwner,
		MigrationHash:       derefString(d.MigrationHash),
		EscrowHash:          derefString(d.EscrowHash),
		Signature:           derefString(d.Signature),
		PremintTx:           toBroadcast(d.PremintTxs, nil),
		DepartureTx:         toBroadcast(d.DepartureTxs, d.DepartureTxHash),
		RegistrationTx:      toBroadcast(d.RegistrationTxs, d.RegistrationTxHash),
		ArrivalTx:           toBroadcast(d.ArrivalTxs, d.ArrivalTxHash),
		State:               migration.State(d.State),
		LastState:           migration.State(derefString(d.LastState)),
		FailureReason:       derefString(d.FailureReason),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.BlockTimestamp != nil {
		req.BlockTimestamp = uint64(*d.BlockTimestamp)
	}
	return req
}

func toBroadcastDao(b migration.Broadcast) *dao.TxBroadcastDao {
	if !b.Sent() {
		return nil
	}
	return &dao.TxBroadcastDao{Nonce: b.Nonce, Hashes: b.Hashes}
}

// toBroadcast falls back to the single latest hash for rows written before
// every broadcast was kept.
func toBroadcast(d *dao.TxBroadcastDao, latest *string) migration.Broadcast {
	if d != nil && len(d.Hashes) > 0 {
		return migration.Broadcast{Nonce: d.Nonce, Hashes: d.Hashes}
	}
	if latest != nil && *latest != "" {
		return migration.Broadcast{Hashes: []string{*latest}}
	}
	return migration.Broadcast{}
}

func toTransitionDao(t migration.Transition) *dao.MigrationTransitionDao {
	return &dao.MigrationTransitionDao{
		RequestID: t.RequestID,
		FromState: string(t.From),
		ToState:   string(t.To),
		Reason:    optString(t.Reason),
		CreatedAt: t.At,
	}
}

func toTransition(d *dao.MigrationTransitionDao) migration.Transition {
	return migration.Transition{
		RequestID: d.RequestID,
		From:      migration.State(d.FromState),
		To:        migration.State(d.ToState),
		Reason:    derefString(d.Reason),
		At:        d.CreatedAt,
	}
}

func toTransactionDao(tx ethereum.PendingTransaction) *dao.RelayTransactionDao {
	d := &dao.RelayTransactionDao{
		Universe:    tx.Universe,
		Label:       tx.Label,
		MigrationID: optString(tx.Ref),
		ToAddress:   tx.To.Hex(),
		Data:        tx.Data,
		Gas:         int64(tx.Gas),
		GasPrice:    "0",
		Attempt:     tx.Attempt,
		Status:      string(tx.Status),
		Reason:      optString(tx.Reason),
	}
	if tx.Nonce != nil {
		n := int64(*tx.Nonce)
		d.Nonce = &n
	}
	if tx.GasPrice != nil {
		d.GasPrice = tx.GasPrice.String()
	}
	if tx.TxHash != (common.Hash{}) {
		d.TxHash = optString(tx.TxHash.Hex())
	}
	return d
}

func toTransaction(d *dao.RelayTransactionDao) ethereum.PendingTransaction {
	tx := ethereum.PendingTransaction{
		Universe: d.Universe,
		Label:    d.Label,
		Ref:      derefString(d.MigrationID),
		To:       common.HexToAddress(d.ToAddress),
		Data:     d.Data,
		Gas:      uint64(d.Gas),
		Attempt:  d.Attempt,
		Status:   ethereum.TxStatus(d.Status),
		Reason:   derefString(d.Reason),
	}
	if d.Nonce != nil {
		n := uint64(*d.Nonce)
		tx.Nonce = &n
	}
	if price, ok := new(big.Int).SetString(d.GasPrice, 10); ok {
		tx.GasPrice = price
	}
	if d.TxHash != nil {
		tx.TxHash = common.HexToHash(*d.TxHash)
	}
	return tx
}
