package ethereum

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrChainUnreachable is returned once the reconnect budget of a universe is spent.
	ErrChainUnreachable = errors.New("chain unreachable")
	// ErrTransactionFailed is the root of every terminal Balancer failure.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrEventNotObserved is returned when the departure event does not show up in time.
	ErrEventNotObserved = errors.New("departure event not observed")
)

// TxCause classifies a terminal transaction failure.
type TxCause string

const (
	CauseReverted          TxCause = "reverted"
	CauseTimeout           TxCause = "timeout"
	CauseInsufficientFunds TxCause = "insufficient_funds"
	CauseRejected          TxCause = "rejected"
)

// TxError is returned by the Balancer when a transaction cannot be confirmed.
type TxError struct {
	Cause  TxCause
	Reason string
	Nonce  *uint64
	TxHash common.Hash
}

func (e *TxError) Error() string {
	msg := fmt.Sprintf("transaction %s: %s", e.Cause, e.Reason)
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	return msg
}

// Is lets callers match any TxError against ErrTransactionFailed.
func (e *TxError) Is(target error) bool {
	return target == ErrTransactionFailed
}

// TxRequest is an outbound contract call routed through the Balancer.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit skips estimation when set.
	GasLimit uint64
	// Label names the call in logs, metrics and the transaction journal.
	Label string
	Track
}

// Submission is one broadcast of a transaction. Gas bumps share the nonce of
// the transaction they replace.
type Submission struct {
	Hash    common.Hash
	Nonce   uint64
	Attempt int
}

// Track ties the transactions of a call to the work item that caused it.
type Track struct {
	// Ref is journaled with every status change, typically a migration id.
	Ref string
	// OnSubmitted is invoked for every broadcast, replacements included,
	// before confirmation.
	OnSubmitted func(Submission)
}

func (t Track) submitted(tx *types.Transaction, attempt int) {
	if t.OnSubmitted != nil {
		t.OnSubmitted(Submission{Hash: tx.Hash(), Nonce: tx.Nonce(), Attempt: attempt})
	}
}

// Departure is the outcome of a confirmed migrateToERC721IOU call.
type Departure struct {
	MigrationHash  common.Hash
	BlockNumber    uint64
	BlockTimestamp uint64
	TxHash         common.Hash
}

// DepartureParams are the arguments of migrateToERC721IOU. Universe ids and
// addresses travelling as bytes32 are kept as strings so they go through the
// canonical encoder exactly once.
type DepartureParams struct {
	OriginBridge        common.Address
	OriginWorld         common.Address
	OriginTokenID       *big.Int
	OriginOwner         string
	DestinationUniverse string
	DestinationBridge   string
	DestinationWorld    string
	DestinationTokenID  *big.Int
	DestinationOwner    string
}

// ArrivalParams are the arguments of migrateFromIOUERC721ToERC721.
type ArrivalParams struct {
	DestinationBridge  common.Address
	OriginUniverse     string
	OriginBridge       string
	OriginWorld        string
	OriginTokenID      *big.Int
	OriginOwner        string
	DestinationWorld   common.Address
	DestinationTokenID *big.Int
	DestinationOwner   common.Address
	BlockTimestamp     uint64
	Signature          []byte
}
