package migration

import (
	"errors"
	"testing"
)

var forward = []State{
	StateInitiated,
	StateDepartureRegistered,
	StateEscrowProofObtained,
	StateEscrowSigned,
	StateSignatureRegistered,
	StateArrivalRedeemed,
	StateCompleted,
}

func TestAdvance_ForwardOnly(t *testing.T) {
	r := &Request{ID: "r1", State: StateInitiated}
	for _, next := range forward[1:] {
		tr, err := r.Advance(next)
		if err != nil {
			t.Fatalf("Advance(%s) failed: %v", next, err)
		}
		if tr.To != next || r.State != next {
			t.Errorf("expected state %s, got %s", next, r.State)
		}
	}

	for _, prev := range forward {
		if _, err := r.Advance(prev); !errors.Is(err, ErrStateRegression) {
			t.Errorf("Advance(%s) from completed: expected ErrStateRegression, got %v", prev, err)
		}
	}
}

func TestAdvance_RejectsRegressionAndRepeat(t *testing.T) {
	r := &Request{State: StateEscrowSigned}
	tests := []State{StateInitiated, StateDepartureRegistered, StateEscrowSigned, StateFailed, "bogus"}
	for _, next := range tests {
		if _, err := r.Advance(next); !errors.Is(err, ErrStateRegression) {
			t.Errorf("Advance(%s): expected ErrStateRegression, got %v", next, err)
		}
		if r.State != StateEscrowSigned {
			t.Fatalf("state changed to %s on rejected transition", r.State)
		}
	}
}

func TestAdvance_SkippingIsForward(t *testing.T) {
	r := &Request{State: StateArrivalRedeemed}
	if _, err := r.Advance(StateCompleted); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
}

func TestFailAndReopen(t *testing.T) {
	r := &Request{ID: "r1", State: StateDepartureRegistered}
	tr := r.Fail("escrow proof not available")
	if tr.From != StateDepartureRegistered || r.State != StateFailed {
		t.Fatalf("unexpected failure transition %+v", tr)
	}
	if r.LastState != StateDepartureRegistered {
		t.Errorf("expected last state kept, got %s", r.LastState)
	}
	if _, err := r.Advance(StateEscrowProofObtained); !errors.Is(err, ErrStateRegression) {
		t.Errorf("failed request must not advance without reopening")
	}
	if !r.Reached(StateDepartureRegistered) || r.Reached(StateEscrowProofObtained) {
		t.Errorf("Reached must look through the failure")
	}

	// Failing twice keeps the original last state.
	r.Fail("again")
	if r.LastState != StateDepartureRegistered {
		t.Errorf("expected last state %s, got %s", StateDepartureRegistered, r.LastState)
	}

	if _, err := r.Reopen(); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if r.State != StateDepartureRegistered || r.FailureReason != "" {
		t.Errorf("expected resume at departure_registered, got %s (%q)", r.State, r.FailureReason)
	}
	if _, err := r.Reopen(); !errors.Is(err, ErrNotFailed) {
		t.Errorf("expected ErrNotFailed, got %v", err)
	}
}

func TestAssignMigrationHash_Once(t *testing.T) {
	r := &Request{}
	if err := r.AssignMigrationHash("0x01"); err != nil {
		t.Fatalf("AssignMigrationHash failed: %v", err)
	}
	if err := r.AssignMigrationHash("0x01"); err != nil {
		t.Errorf("reassigning the same hash must succeed: %v", err)
	}
	if err := r.AssignMigrationHash("0x02"); !errors.Is(err, ErrMigrationHashAssigned) {
		t.Errorf("expected ErrMigrationHashAssigned, got %v", err)
	}
}

func TestCommitted(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{"initiated", Request{State: StateInitiated}, false},
		{"premint only", Request{State: StateInitiated, PremintTx: Broadcast{Hashes: []string{"0xa1"}}}, false},
		{"departure sent", Request{State: StateInitiated, DepartureTx: Broadcast{Hashes: []string{"0xd1"}}}, true},
		{"failed with departure sent", Request{State: StateFailed, LastState: StateInitiated, DepartureTx: Broadcast{Hashes: []string{"0xd1"}}}, true},
		{"failed before departure", Request{State: StateFailed, LastState: StateInitiated}, false},
		{"departure registered", Request{State: StateDepartureRegistered}, true},
		{"failed after signing", Request{State: StateFailed, LastState: StateEscrowSigned}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Committed(); got != tt.want {
				t.Errorf("Committed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBroadcast_Record(t *testing.T) {
	var b Broadcast
	if b.Sent() || b.Latest() != "" {
		t.Fatal("empty broadcast must not count as sent")
	}

	b.Record("0xa1", 7)
	b.Record("0xa2", 7)
	b.Record("0xa2", 7)
	if len(b.Hashes) != 2 || b.Latest() != "0xa2" || *b.Nonce != 7 {
		t.Fatalf("unexpected broadcast %+v", b)
	}

	b.Record("0xb1", 9)
	if *b.Nonce != 9 || b.Latest() != "0xb1" || len(b.Hashes) != 3 {
		t.Errorf("resend must move the nonce and keep earlier hashes, got %+v", b)
	}
}

func TestStateHelpers(t *testing.T) {
	if !StateCompleted.Terminal() || !StateFailed.Terminal() || StateEscrowSigned.Terminal() {
		t.Error("unexpected terminal states")
	}
	for _, s := range append(forward, StateFailed) {
		if _, err := ParseState(string(s)); err != nil {
			t.Errorf("ParseState(%s) failed: %v", s, err)
		}
	}
	if _, err := ParseState("pending"); err == nil {
		t.Error("expected unknown state to be rejected")
	}
	if _, err := ParseType("mint-iou"); err != nil {
		t.Errorf("ParseType failed: %v", err)
	}
	if _, err := ParseType("swap"); err == nil {
		t.Error("expected unknown type to be rejected")
	}
}
