package engine

import "strconv"

// State is the lifecycle state of a Conn
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateUpgrading
	StateConnected
	StateReconnectWait
)

// String returns the state as a string
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateUpgrading:
		return "upgrading"
	case StateConnected:
		return "connected"
	case StateReconnectWait:
		return "reconnect_wait"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}
