package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/device"
)

// NormalizeError maps known go-ble and platform error strings to the device error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case errors.Is(err, device.ErrRadioUnavailable):
		return err
	case device.ContainsIgnoreCase(msg, "have=4"), device.ContainsIgnoreCase(msg, "bluetooth is turned off"),
		device.ContainsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "have=3"), device.ContainsIgnoreCase(msg, "unauthorized"),
		device.ContainsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case device.ContainsIgnoreCase(msg, "have=2"), device.ContainsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", &device.RadioError{State: device.AdapterUnsupported}, err)
	case errors.Is(err, context.DeadlineExceeded), device.ContainsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", device.ErrPeripheralUnreachable, err)
	case device.ContainsIgnoreCase(msg, "device not connected"), device.ContainsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case device.ContainsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	default:
		return err
	}
}

// stateFromError derives the adapter state implied by a device creation error.
func stateFromError(err error) device.AdapterState {
	var radioErr *device.RadioError
	if errors.As(NormalizeError(err), &radioErr) {
		return radioErr.State
	}
	return device.AdapterUnsupported
}
