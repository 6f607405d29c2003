package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	Connected
	SubscribingCharacteristics
	Streaming
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case SubscribingCharacteristics:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// linked reports whether the session holds a live peripheral connection in this state.
func (s State) linked() bool {
	return s == Connected || s == SubscribingCharacteristics || s == Streaming
}

var (
	// ErrInvalidState is matched by every StateError.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("session closed")
)

// StateError reports an operation requested from a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
