package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Central is the subset of ble.Device used for the central role.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// DeviceFactory creates the platform central device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// Radio implements device.Radio on top of go-ble.
// The platform device is created lazily on first use and reused afterwards;
// creation failures are remembered as the adapter state until the next attempt.
type Radio struct {
	logger *logrus.Logger

	mu        sync.Mutex
	dev       Central
	state     device.AdapterState
	listeners []func(device.AdapterState)
}

// NewRadio creates a go-ble backed radio.
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{logger: logger, state: device.AdapterUnknown}
}

// central returns the platform device, creating it if needed.
func (r *Radio) central() (Central, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return r.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		r.setStateLocked(stateFromError(err))
		r.logger.WithFields(logrus.Fields{
			"state": r.state,
			"error": err,
		}).Warn("Failed to create BLE device")
		return nil, NormalizeError(err)
	}

	r.dev = dev
	r.setStateLocked(device.AdapterPoweredOn)
	r.logger.Debug("BLE device created")
	return dev, nil
}

// OnStateChange registers fn for adapter state changes. Listeners run on their
// own goroutine, so they may call back into the radio.
func (r *Radio) OnStateChange(fn func(device.AdapterState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// setStateLocked records state and notifies listeners when it changed.
func (r *Radio) setStateLocked(state device.AdapterState) {
	if r.state == state {
		return
	}
	from := r.state
	r.state = state
	r.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   state,
	}).Debug("Bluetooth adapter state changed")

	if len(r.listeners) == 0 {
		return
	}
	listeners := append(([]func(device.AdapterState))(nil), r.listeners...)
	groutine.Go(context.Background(), "ble-adapter-state", func(context.Context) {
		for _, fn := range listeners {
			fn(state)
		}
	})
}

// State reports the adapter state, creating the platform device on first call.
func (r *Radio) State() device.AdapterState {
	_, _ = r.central()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Scan runs a go-ble scan until ctx is done.
func (r *Radio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := r.central()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.markUnavailable(err)
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to address and discovers its GATT profile.
// A dial that does not complete before ctx's deadline fails with device.ErrPeripheralUnreachable.
func (r *Radio) Dial(ctx context.Context, address string) (device.Link, error) {
	dev, err := r.central()
	if err != nil {
		return nil, err
	}

	r.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %v", device.ErrPeripheralUnreachable, address, err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		r.markUnavailable(err)
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	r.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			r.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	return newLink(address, client, profile, r.logger), nil
}

// markUnavailable drops the cached device when err says the adapter went away,
// so the next State call asks the platform again.
func (r *Radio) markUnavailable(err error) {
	var radioErr *device.RadioError
	if !errors.As(NormalizeError(err), &radioErr) {
		return
	}

	r.mu.Lock()
	r.dev = nil
	r.setStateLocked(radioErr.State)
	r.mu.Unlock()
}
