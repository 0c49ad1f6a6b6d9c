package hub

// State is the lifecycle state of a single hub connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ReconnectEvent is emitted before every reconnect attempt.
type ReconnectEvent struct {
	Attempt int
	Err     error
}
