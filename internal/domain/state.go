package domain

// SessionState is the connectivity state of a Session.
type SessionState int32

const (
	StateNew SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition other than close is possible.
func (s SessionState) IsTerminal() bool { return s == StateClosed }

// transitions lists forward edges. Closed is reachable from everywhere and is
// handled in CanTransition.
var transitions = map[SessionState][]SessionState{
	StateNew:          {StateConnecting},
	StateConnecting:   {StateConnected, StateFailed},
	StateConnected:    {StateDisconnected},
	StateDisconnected: {StateConnected, StateConnecting, StateFailed},
	StateFailed:       {StateConnecting},
}

// CanTransition reports whether s -> to is a legal edge. disconnected -> connecting
// and failed -> connecting are the only backward edges (ICE restart).
func (s SessionState) CanTransition(to SessionState) bool {
	if to == StateClosed {
		return s != StateClosed
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
