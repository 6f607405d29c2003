package device

import (
	"errors"
	"fmt"
	"strings"
)

// Session error taxonomy
var (
	// ErrRadioUnavailable means the adapter is off, unauthorized or unsupported.
	// Fatal to the current operation; never retried internally.
	ErrRadioUnavailable = errors.New("radio unavailable")

	// ErrPeripheralUnreachable means a connection attempt timed out. Callers may retry.
	ErrPeripheralUnreachable = errors.New("peripheral unreachable")

	// ErrCharacteristicNotFound means the peripheral's profile has no such characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")

	// ErrDisconnectedUnexpectedly means the peripheral dropped the connection on its own.
	ErrDisconnectedUnexpectedly = errors.New("disconnected unexpectedly")
)

// Adapter states that make the radio unavailable
var (
	ErrBluetoothOff = &RadioError{State: AdapterPoweredOff}
	ErrUnauthorized = &RadioError{State: AdapterUnauthorized}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// RadioError reports an adapter that cannot serve central-role operations.
// It matches ErrRadioUnavailable with errors.Is.
type RadioError struct {
	State AdapterState
}

func (e *RadioError) Error() string {
	switch e.State {
	case AdapterPoweredOff:
		return "bluetooth is turned off"
	case AdapterUnauthorized:
		return "bluetooth access is not authorized"
	default:
		return fmt.Sprintf("bluetooth adapter is %s", e.State)
	}
}

// Is matches ErrRadioUnavailable and RadioError values with the same State.
func (e *RadioError) Is(target error) bool {
	if target == ErrRadioUnavailable {
		return true
	}
	t, ok := target.(*RadioError)
	return ok && t.State == e.State
}

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // One or more identifiers, outermost first
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], "peripheral", e.UUIDs[0])
}

// Is lets a missing characteristic match ErrCharacteristicNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrCharacteristicNotFound && e.Resource == "characteristic"
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// IsRetryable reports whether the caller may retry the failed operation as-is.
// Only connection timeouts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPeripheralUnreachable)
}

// ContainsIgnoreCase checks substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
