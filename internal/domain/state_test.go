package domain

import (
	"errors"
	"testing"
)

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		val  SessionState
		want string
	}{
		{StateNew, "new"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDisconnected, "disconnected"},
		{StateFailed, "failed"},
		{StateClosed, "closed"},
		{SessionState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.val.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.val, got, tt.want)
		}
	}
}

func TestSessionState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StateNew, StateConnecting, true},
		{StateNew, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateFailed, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, false},
		{StateConnected, StateNew, false},
		{StateDisconnected, StateConnected, true},
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateFailed, true},
		{StateFailed, StateConnecting, true},
		{StateFailed, StateConnected, false},
		{StateNew, StateClosed, true},
		{StateConnected, StateClosed, true},
		{StateFailed, StateClosed, true},
		{StateClosed, StateClosed, false},
		{StateClosed, StateConnecting, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateError_Is(t *testing.T) {
	err := error(&StateError{Op: "AddTrack", State: StateClosed})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("errors.Is(%v, ErrInvalidState) = false", err)
	}
	if errors.Is(err, ErrNegotiation) {
		t.Fatalf("StateError must not match ErrNegotiation")
	}
}

func TestFrameDropError_Is(t *testing.T) {
	err := error(&FrameDropError{Track: "t1", Seq: 7, Reason: DropEncodeBudget})
	if !errors.Is(err, ErrFrameDropped) {
		t.Fatalf("errors.Is(%v, ErrFrameDropped) = false", err)
	}
}
