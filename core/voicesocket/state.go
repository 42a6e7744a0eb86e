package voicesocket

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is delivered to the state handler on every transition.
// Attempt is the reconnection attempt in progress, zero outside of
// reconnection. Err is set when the state is StateError.
type StateChange struct {
	State   ConnectionState
	Err     error
	Attempt int

	seq uint64
}
