package main

import (
	"context"
	"errors"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost while monitoring.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoPeripheral indicates the scan ended without a peripheral to monitor.
	ErrNoPeripheral = errors.New("no matching peripheral found")
)

// FormatUserError maps an error to a short message for the terminal.
// Unknown errors are printed unchanged.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnauthorized):
		return "Bluetooth access is not authorized. Grant this terminal Bluetooth permission and try again."
	case errors.Is(err, device.ErrRadioUnavailable):
		return "Bluetooth adapter is unavailable: " + err.Error()
	case errors.Is(err, device.ErrPeripheralUnreachable):
		return "Peripheral did not respond in time. Move closer or retry."
	case errors.Is(err, ErrConnectionLost), errors.Is(err, device.ErrDisconnectedUnexpectedly):
		return "Connection to the peripheral was lost."
	case device.IsConnectionState(err, device.NotConnected):
		return "Peripheral is not connected."
	case device.IsConnectionState(err, device.AlreadyConnected):
		return "Peripheral is already connected to this host. Disconnect it and try again."
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.Is(err, device.ErrUnsupported):
		return "Operation not supported by the peripheral: " + err.Error()
	case errors.Is(err, session.ErrInvalidState):
		return "Session is busy: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Operation timed out."
	default:
		return err.Error()
	}
}
