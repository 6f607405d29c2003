package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/blecentral/internal/device"
)

// FakeRadio is an in-memory device.Radio. Advertisements registered before a
// scan are replayed when it starts; Advertise delivers to a running scan.
// Every successful Dial builds a fresh FakeLink from the registered peripheral.
type FakeRadio struct {
	mu          sync.Mutex
	state       device.AdapterState
	adverts     []device.Advertisement
	scanHandler func(device.Advertisement)
	scanErr     error
	scans       int
	scanID      int // scan owning scanHandler

	peripherals map[string]*PeripheralBuilder
	links       map[string]*FakeLink
	dialErr     map[string]error
	dialHang    map[string]bool
	dials       int
	listeners   []func(device.AdapterState)
}

var _ device.Radio = (*FakeRadio)(nil)

// NewFakeRadio returns a powered-on radio with nothing around it.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{
		state:       device.AdapterPoweredOn,
		peripherals: make(map[string]*PeripheralBuilder),
		links:       make(map[string]*FakeLink),
		dialErr:     make(map[string]error),
		dialHang:    make(map[string]bool),
	}
}

// SetState changes the adapter state silently, like a platform that has not
// sent its notification yet.
func (r *FakeRadio) SetState(state device.AdapterState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// ChangeState changes the adapter state and notifies OnStateChange listeners
// synchronously on the calling goroutine.
func (r *FakeRadio) ChangeState(state device.AdapterState) {
	r.mu.Lock()
	r.state = state
	listeners := append(([]func(device.AdapterState))(nil), r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (r *FakeRadio) OnStateChange(fn func(device.AdapterState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// WithAdvertisements registers advertisements replayed at the start of each scan.
func (r *FakeRadio) WithAdvertisements(advs ...device.Advertisement) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adverts = append(r.adverts, advs...)
	return r
}

// WithPeripheral registers a connectable peripheral profile.
func (r *FakeRadio) WithPeripheral(b *PeripheralBuilder) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[b.address] = b
	return r
}

// FailScan makes the next scans return err right after replaying advertisements.
func (r *FakeRadio) FailScan(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanErr = err
}

// FailDial makes dials to address return err.
func (r *FakeRadio) FailDial(address string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialErr[address] = err
}

// HangDial makes dials to address block until their context is done.
func (r *FakeRadio) HangDial(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialHang[address] = true
}

// Advertise delivers adv to the running scan. Reports whether a scan was running.
func (r *FakeRadio) Advertise(adv device.Advertisement) bool {
	r.mu.Lock()
	h := r.scanHandler
	r.mu.Unlock()

	if h == nil {
		return false
	}
	h(adv)
	return true
}

func (r *FakeRadio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanHandler != nil
}

func (r *FakeRadio) ScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

func (r *FakeRadio) DialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

// Link returns the link created by the latest successful dial to address.
func (r *FakeRadio) Link(address string) *FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[address]
}

func (r *FakeRadio) State() device.AdapterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *FakeRadio) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	r.mu.Lock()
	if err := r.state.Err(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.scans++
	id := r.scans
	adverts := append([]device.Advertisement(nil), r.adverts...)
	scanErr := r.scanErr
	r.mu.Unlock()

	for _, adv := range adverts {
		handler(adv)
	}
	if scanErr != nil {
		return scanErr
	}

	r.mu.Lock()
	r.scanHandler = handler
	r.scanID = id
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	if r.scanID == id {
		r.scanHandler = nil
	}
	r.mu.Unlock()
	return nil
}

func (r *FakeRadio) Dial(ctx context.Context, address string) (device.Link, error) {
	r.mu.Lock()
	r.dials++
	err := r.dialErr[address]
	hang := r.dialHang[address]
	b := r.peripherals[address]
	r.mu.Unlock()

	if hang {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, device.ErrPeripheralUnreachable
		}
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, device.ErrPeripheralUnreachable
	}

	link := b.Build()
	r.mu.Lock()
	r.links[address] = link
	r.mu.Unlock()
	return link, nil
}
