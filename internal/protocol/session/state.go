package session

import "fmt"

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateControlConnected
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateControlConnected:
		return "control_connected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
