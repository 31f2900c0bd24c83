package session

// State is the connection state of a session. The only legal transitions are
// Disconnected -> Connecting -> Connected -> Disconnected and
// Connecting -> Disconnected on failure.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name as surfaced to the user-facing tri-state
// connection indicator.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
