package bridge

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	// StateAwaitingStart: no start event yet. The AI leg may already be
	// provisioning or open.
	StateAwaitingStart State = iota
	// StateAIConnecting: start has arrived, the AI leg is not relaying yet.
	StateAIConnecting
	// StateActive: start has arrived and audio is relayed both ways.
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateAIConnecting:
		return "ai_connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
