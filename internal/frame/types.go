// Package frame implements the length-prefixed TCP frame protocol, UDP
// broadcast host discovery, and the two cooperating receive/dispatch loops
// that move frames between the wire and application-registered listeners
// (spec §4.D).
package frame

import "fmt"

// MessageType is the 1-byte frame type tag (spec §4.D).
type MessageType uint8

const (
	KeepAlive MessageType = iota
	ConnectionAccepted
	ConnectionRefused
	DataUpdate
	LocalMapUpdate
	Command
	CommandResult
)

func (t MessageType) String() string {
	switch t {
	case KeepAlive:
		return "KEEP_ALIVE"
	case ConnectionAccepted:
		return "CONNECTION_ACCEPTED"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case DataUpdate:
		return "DATA_UPDATE"
	case LocalMapUpdate:
		return "LOCAL_MAP_UPDATE"
	case Command:
		return "COMMAND"
	case CommandResult:
		return "COMMAND_RESULT"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message is one decoded frame: its type tag and raw payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// State is the connection lifecycle state of a Channel (supplements spec §4.D
// with the explicit state machine the original implementation tracks —
// see SPEC_FULL.md "SUPPLEMENTED FEATURES" item 1).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectionListener is notified of connect/disconnect transitions. errStatus
// is 0 for a voluntary close, non-zero for a failure (spec §4.D).
type ConnectionListener func(connected bool, errStatus int, errMsg string)

// MessageListener receives every dispatched frame whose type matches the
// filter it was registered with (nil filter means every type).
type MessageListener func(msg Message)
