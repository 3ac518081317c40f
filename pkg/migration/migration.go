// Package migration models a cross-universe NFT migration and the forward-only
// state machine it moves through.
package migration

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrStateRegression is returned for any transition that does not move forward.
	ErrStateRegression = errors.New("migration state can only move forward")
	// ErrMigrationHashAssigned is returned when a request already carries a different migration hash.
	ErrMigrationHashAssigned = errors.New("migration hash already assigned")
	// ErrNotFailed is returned when reopening a request that has not failed.
	ErrNotFailed = errors.New("migration is not failed")
)

// State is a step of the migration protocol.
type State string

const (
	StateInitiated           State = "initiated"
	StateDepartureRegistered State = "departure_registered"
	StateEscrowProofObtained State = "escrow_proof_obtained"
	StateEscrowSigned        State = "escrow_signed"
	StateSignatureRegistered State = "signature_registered"
	StateArrivalRedeemed     State = "arrival_redeemed"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

var stateOrder = map[State]int{
	StateInitiated:           1,
	StateDepartureRegistered: 2,
	StateEscrowProofObtained: 3,
	StateEscrowSigned:        4,
	StateSignatureRegistered: 5,
	StateArrivalRedeemed:     6,
	StateCompleted:           7,
}

// ParseState validates a stored state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if st == StateFailed {
		return st, nil
	}
	if _, ok := stateOrder[st]; !ok {
		return "", fmt.Errorf("unknown migration state %q", s)
	}
	return st, nil
}

// Before reports whether s comes strictly before other in the protocol order.
// Failed is not ordered.
func (s State) Before(other State) bool {
	a, okA := stateOrder[s]
	b, okB := stateOrder[other]
	return okA && okB && a < b
}

// Terminal reports whether no further transition is possible without a retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Type is the kind of migration.
type Type string

const (
	// TypeMintIOU escrows the origin token and mints an IOU on the destination.
	TypeMintIOU Type = "mint-iou"
	// TypeRedeemIOU burns or escrows an IOU and releases the original token.
	TypeRedeemIOU Type = "redeem-iou"
)

// ParseType validates a migration type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeMintIOU, TypeRedeemIOU:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown migration type %q", s)
}

// Request is the unit of work of the relay. Token ids are kept in their
// decimal form and parsed through the codec at the chain boundary.
type Request struct {
	ID   string
	Type Type

	OriginUniverse string
	OriginWorld    string
	OriginTokenID  string
	OriginOwner    string

	DestinationUniverse string
	DestinationBridge   string
	DestinationWorld    string
	DestinationTokenID  string
	DestinationOwner    string

	MigrationHash  string
	EscrowHash     string
	Signature      string
	BlockTimestamp uint64

	PremintTx      Broadcast
	DepartureTx    Broadcast
	RegistrationTx Broadcast
	ArrivalTx      Broadcast

	State         State
	LastState     State
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition is one audited state change of a Request.
type Transition struct {
	RequestID string
	From      State
	To        State
	Reason    string
	At        time.Time
}

// Advance moves r to next. Only forward moves between ordered states are allowed.
func (r *Request) Advance(next State) (Transition, error) {
	if r.State == StateFailed || !r.State.Before(next) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrStateRegression, r.State, next)
	}
	t := Transition{RequestID: r.ID, From: r.State, To: next, At: time.Now().UTC()}
	r.State = next
	r.UpdatedAt = t.At
	return t, nil
}

// Fail marks r failed, keeping the last reached state.
func (r *Request) Fail(reason string) Transition {
	t := Transition{RequestID: r.ID, From: r.State, To: StateFailed, Reason: reason, At: time.Now().UTC()}
	if r.State != StateFailed {
		r.LastState = r.State
	}
	r.State = StateFailed
	r.FailureReason = reason
	r.UpdatedAt = t.At
	return t
}

// Reopen returns a failed request to the state it had reached so processing
// can resume from the next step. Passed steps are not re-entered.
func (r *Request) Reopen() (Transition, error) {
	if r.State != StateFailed {
		return Transition{}, fmt.Errorf("%w: %s", ErrNotFailed, r.State)
	}
	resume := r.LastState
	if resume == "" {
		resume = StateInitiated
	}
	t := Transition{RequestID: r.ID, From: StateFailed, To: resume, Reason: "retry", At: time.Now().UTC()}
	r.State = resume
	r.LastState = ""
	r.FailureReason = ""
	r.UpdatedAt = t.At
	return t, nil
}

// AssignMigrationHash sets the origin-assigned correlation key exactly once.
func (r *Request) AssignMigrationHash(hash string) error {
	if r.MigrationHash != "" && r.MigrationHash != hash {
		return fmt.Errorf("%w: %s", ErrMigrationHashAssigned, r.MigrationHash)
	}
	r.MigrationHash = hash
	return nil
}

// Committed reports whether r may have altered on-chain state: a departure
// was broadcast or a later step was reached. Committed requests are never
// discarded.
func (r *Request) Committed() bool {
	return r.DepartureTx.Sent() || r.Reached(StateDepartureRegistered)
}

// Reached reports whether r has passed or is at s, looking through a failure.
func (r *Request) Reached(s State) bool {
	cur := r.State
	if cur == StateFailed {
		cur = r.LastState
	}
	return cur == s || s.Before(cur)
}

// Broadcast records the transactions sent for one protocol step. Gas-bumped
// replacements reuse the nonce, so any of the hashes may be the one that is
// mined.
type Broadcast struct {
	Nonce  *uint64
	Hashes []string
}

// Record adds a submitted hash. A new nonce means the earlier one was
// consumed by something else; its hashes are kept for the audit trail.
func (b *Broadcast) Record(hash string, nonce uint64) {
	b.Nonce = &nonce
	if !slices.Contains(b.Hashes, hash) {
		b.Hashes = append(b.Hashes, hash)
	}
}

// Sent reports whether anything was broadcast.
func (b Broadcast) Sent() bool {
	return len(b.Hashes) > 0
}

// Latest returns the most recent hash, or "".
func (b Broadcast) Latest() string {
	if len(b.Hashes) == 0 {
		return ""
	}
	return b.Hashes[len(b.Hashes)-1]
}
