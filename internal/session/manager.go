package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

const (
	minValidRSSI = -127
	maxValidRSSI = 20

	// txPowerUnknown is reported by the radio when the advertisement carries no TX power level.
	txPowerUnknown = 127
)

// Options configures a Manager. Zero fields take their default tag value.
type Options struct {
	// ConnectTimeout bounds a single connection attempt including profile discovery.
	ConnectTimeout time.Duration `default:"10s"`

	// HistorySize is the number of payloads kept per subscribed characteristic.
	HistorySize int `default:"64"`

	Logger *logrus.Logger
}

// Manager owns the scan, connect, subscribe and receive lifecycle of a single
// central session. Operations validate synchronously and never block on radio
// I/O; results are delivered through Futures and the Handler.
type Manager struct {
	radio    device.Radio
	handler  Handler
	logger   *logrus.Logger
	opts     Options
	dispatch *dispatcher

	// Cached peripherals, readable without the session lock
	peripherals *hashmap.Map[string, device.DiscoveredPeripheral]
	subs        *subscriptionTable

	mu     sync.Mutex
	state  State
	epoch  uint64 // bumped by Stop to discard late results of cancelled operations
	closed bool

	discovery  *Discovery
	scanCancel context.CancelFunc

	target          string // peripheral being connected or connected
	dialCancel      context.CancelFunc
	connectFuture   *Future
	subscribeFuture *Future
	link            device.Link

	closeOnce sync.Once
}

// New creates an idle session on radio. A nil handler ignores all events.
func New(radio device.Radio, handler Handler, opts Options) *Manager {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if handler == nil {
		handler = NopHandler{}
	}

	m := &Manager{
		radio:       radio,
		handler:     handler,
		logger:      opts.Logger,
		opts:        opts,
		dispatch:    newDispatcher(opts.Logger),
		peripherals: hashmap.New[string, device.DiscoveredPeripheral](),
		subs:        newSubscriptionTable(opts.HistorySize, opts.Logger),
	}
	radio.OnStateChange(m.AdapterStateChanged)
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartScan begins discovering peripherals. Valid only from Idle.
func (m *Manager) StartScan(filter ScanFilter) (*Discovery, error) {
	if len(filter.Services) > 0 {
		services, err := device.ValidateUUID(filter.Services...)
		if err != nil {
			return nil, fmt.Errorf("invalid service filter: %w", err)
		}
		filter.Services = services
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.state != Idle {
		return nil, &StateError{Op: "start scan", State: m.state}
	}

	if adapter := m.radio.State(); adapter != device.AdapterPoweredOn {
		m.logger.WithField("adapter_state", adapter).Warn("Cannot start scan: radio unavailable")
		return nil, fmt.Errorf("start scan: %w", adapter.Err())
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if filter.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), filter.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	disc := newDiscovery()
	m.discovery = disc
	m.scanCancel = cancel
	epoch := m.epoch
	m.transitionLocked(Scanning)

	m.logger.WithFields(logrus.Fields{
		"duration": filter.Duration,
		"services": filter.Services,
	}).Info("Starting BLE scan...")

	groutine.Go(ctx, "session-scan", func(ctx context.Context) {
		err := m.radio.Scan(ctx, filter.AllowDuplicates, func(adv device.Advertisement) {
			m.handleAdvertisement(epoch, disc, filter, adv)
		})
		m.scanEnded(epoch, disc, err)
	})

	return disc, nil
}

// StopScan ends an active scan and returns the session to Idle. No-op in other states.
func (m *Manager) StopScan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Scanning {
		return
	}
	m.stopScanLocked(nil)
	m.pruneCacheLocked("")
	m.transitionLocked(Idle)
}

func (m *Manager) handleAdvertisement(epoch uint64, disc *Discovery, filter ScanFilter, adv device.Advertisement) {
	addr, rssi := adv.Addr(), adv.RSSI()
	if addr == "" || rssi < minValidRSSI || rssi > maxValidRSSI {
		m.logger.WithFields(logrus.Fields{
			"address": addr,
			"rssi":    rssi,
		}).Debug("Skipping malformed advertisement")
		return
	}

	now := time.Now()
	seen := device.DiscoveredPeripheral{
		ID:               addr,
		Name:             adv.LocalName(),
		RSSI:             rssi,
		Connectable:      adv.Connectable(),
		Services:         device.NormalizeUUIDs(adv.Services()),
		ManufacturerData: adv.ManufacturerData(),
		DiscoveredAt:     now,
		LastSeen:         now,
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnknown {
		seen.TxPower = &tx
	}
	for _, sd := range adv.ServiceData() {
		if seen.ServiceData == nil {
			seen.ServiceData = make(map[string][]byte)
		}
		seen.ServiceData[device.NormalizeUUID(sd.UUID)] = sd.Data
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.discovery != disc || m.state != Scanning {
		return
	}

	// A peripheral kept from an earlier connection is still new to this scan.
	if existing, ok := m.peripherals.Get(addr); ok {
		merged := mergePeripheral(existing, seen)
		if disc.has(addr) {
			m.peripherals.Set(addr, merged)
			return
		}
		if !filter.match(merged) {
			return
		}
		merged.DiscoveredAt = seen.DiscoveredAt
		seen = merged
	} else if !filter.match(seen) {
		return
	}

	m.peripherals.Set(addr, seen)
	disc.add(seen)

	m.logger.WithFields(logrus.Fields{
		"device":  seen.DisplayName(),
		"address": addr,
		"rssi":    rssi,
	}).Info("Discovered new device")
	m.post(func(h Handler) { h.OnPeripheralDiscovered(seen) })
}

// mergePeripheral refreshes a cached peripheral with a newer advertisement.
func mergePeripheral(existing, seen device.DiscoveredPeripheral) device.DiscoveredPeripheral {
	existing.RSSI = seen.RSSI
	existing.LastSeen = seen.LastSeen
	existing.Connectable = seen.Connectable
	if seen.Name != "" {
		existing.Name = seen.Name
	}
	if seen.TxPower != nil {
		existing.TxPower = seen.TxPower
	}
	if len(seen.ManufacturerData) > 0 {
		existing.ManufacturerData = seen.ManufacturerData
	}
	if len(seen.ServiceData) > 0 {
		merged := maps.Clone(existing.ServiceData)
		if merged == nil {
			merged = make(map[string][]byte, len(seen.ServiceData))
		}
		maps.Copy(merged, seen.ServiceData)
		existing.ServiceData = merged
	}
	for _, svc := range seen.Services {
		if !slices.Contains(existing.Services, svc) {
			existing.Services = append(slices.Clip(existing.Services), svc)
		}
	}
	return existing
}

func (m *Manager) scanEnded(epoch uint64, disc *Discovery, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.discovery != disc || m.state != Scanning {
		disc.finish(nil)
		return
	}

	if err != nil {
		err = fmt.Errorf("scan failed: %w", err)
		m.logger.WithField("error", err).Error("BLE scan failed")
		m.stopScanLocked(err)
		m.pruneCacheLocked("")
		m.failLocked(err)
		return
	}

	m.logger.WithField("device_count", m.peripherals.Len()).Info("BLE scan completed")
	m.stopScanLocked(nil)
	m.pruneCacheLocked("")
	m.transitionLocked(Idle)
}

// Connect starts a single connection attempt to a cached peripheral.
// Valid from Scanning (the scan is stopped) or from Idle when the peripheral
// is still cached from a previous connection. ctx bounds the attempt together
// with the configured connect timeout.
func (m *Manager) Connect(ctx context.Context, id string) (*Future, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.state != Idle && m.state != Scanning {
		return nil, &StateError{Op: "connect", State: m.state}
	}

	p, ok := m.peripherals.Get(id)
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{id}}
	}

	if adapter := m.radio.State(); adapter != device.AdapterPoweredOn {
		return nil, fmt.Errorf("connect: %w", adapter.Err())
	}

	if m.state == Scanning {
		m.stopScanLocked(nil)
	}
	m.pruneCacheLocked(id)

	fut := newFuture()
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	m.target = id
	m.dialCancel = cancel
	m.connectFuture = fut
	epoch := m.epoch
	m.transitionLocked(Connecting)

	m.logger.WithFields(logrus.Fields{
		"device":  p.DisplayName(),
		"address": id,
		"timeout": m.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	groutine.Go(dialCtx, "session-dial", func(ctx context.Context) {
		link, err := m.radio.Dial(ctx, id)
		m.dialFinished(epoch, id, fut, link, err)
	})

	return fut, nil
}

func (m *Manager) dialFinished(epoch uint64, id string, fut *Future, link device.Link, err error) {
	m.mu.Lock()

	if m.epoch != epoch || m.state != Connecting || m.target != id || m.connectFuture != fut {
		m.mu.Unlock()
		fut.resolve(context.Canceled)
		if link != nil {
			_ = link.Close()
		}
		return
	}
	defer m.mu.Unlock()

	m.dialCancel()
	m.dialCancel = nil
	m.connectFuture = nil

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = device.ErrPeripheralUnreachable
		}
		err = fmt.Errorf("connect %s: %w", id, err)
		m.logger.WithFields(logrus.Fields{
			"address": id,
			"error":   err,
		}).Warn("Connection attempt failed")

		m.target = ""
		m.failLocked(err)
		fut.resolve(err)
		return
	}

	m.link = link
	m.transitionLocked(Connected)
	p, _ := m.peripherals.Get(id)
	m.post(func(h Handler) { h.OnConnected(p) })

	groutine.Go(context.Background(), "session-link-monitor", func(context.Context) {
		<-link.Disconnected()
		m.linkLost(epoch, link)
	})

	fut.resolve(nil)
}

func (m *Manager) linkLost(epoch uint64, link device.Link) {
	m.mu.Lock()
	if m.epoch != epoch || m.link != link {
		m.mu.Unlock()
		return
	}

	m.logger.WithField("address", link.Address()).Warn("Peripheral disconnected unexpectedly")
	l := m.teardownLocked(device.ErrDisconnectedUnexpectedly, Disconnected)
	m.mu.Unlock()

	closeLink(l, m.logger)
}

// Subscribe enables notifications on the given characteristics, or on every
// notifiable characteristic when none are given. Valid only from Connected.
// The session enters Streaming when the first payload arrives.
func (m *Manager) Subscribe(ids ...string) (*Future, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.state != Connected {
		return nil, &StateError{Op: "subscribe", State: m.state}
	}

	targets, err := m.resolveCharacteristicsLocked(ids)
	if err != nil {
		return nil, err
	}

	for _, c := range targets {
		m.subs.reserve(c.Service, c.UUID, c.KnownName)
	}

	fut := newFuture()
	m.subscribeFuture = fut
	link := m.link
	epoch := m.epoch
	m.transitionLocked(SubscribingCharacteristics)

	groutine.Go(context.Background(), "session-subscribe", func(context.Context) {
		var errs []error
		for _, c := range targets {
			err := link.Subscribe(c.UUID, func(data []byte) {
				m.deliver(epoch, link, c, data)
			})
			if err != nil {
				errs = append(errs, err)
				m.subs.remove(c.UUID)
				continue
			}
			m.subscribed(epoch, link, c)
		}
		m.subscribeFinished(epoch, link, fut, errors.Join(errs...))
	})

	return fut, nil
}

func (m *Manager) resolveCharacteristicsLocked(ids []string) ([]device.CharacteristicInfo, error) {
	available := m.link.Characteristics()

	if len(ids) == 0 {
		var out []device.CharacteristicInfo
		for _, c := range available {
			if c.CanNotify() {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no notifiable characteristics on %s: %w", m.target, device.ErrCharacteristicNotFound)
		}
		return out, nil
	}

	out := make([]device.CharacteristicInfo, 0, len(ids))
	for _, id := range ids {
		uuid := device.NormalizeUUID(id)
		idx := slices.IndexFunc(available, func(c device.CharacteristicInfo) bool { return c.UUID == uuid })
		if idx < 0 {
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{m.target, id}}
		}
		c := available[idx]
		if !c.CanNotify() {
			return nil, fmt.Errorf("characteristic %s: notifications %w", id, device.ErrUnsupported)
		}
		if !slices.ContainsFunc(out, func(o device.CharacteristicInfo) bool { return o.UUID == uuid }) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Manager) subscribed(epoch uint64, link device.Link, c device.CharacteristicInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.link != link {
		return
	}
	sub, ok := m.subs.activate(c.UUID, time.Now())
	if !ok {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"service_uuid": c.Service,
		"char_uuid":    c.UUID,
	}).Info("Subscribed to characteristic")
	m.post(func(h Handler) { h.OnSubscribed(sub) })
}

func (m *Manager) subscribeFinished(epoch uint64, link device.Link, fut *Future, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.link != link || m.subscribeFuture != fut {
		fut.resolve(context.Canceled)
		return
	}
	m.subscribeFuture = nil

	if err != nil {
		err = fmt.Errorf("subscribe: %w", err)
		m.logger.WithField("error", err).Warn("Subscription failed")
		m.post(func(h Handler) { h.OnError(err) })

		// Nothing subscribed: the attempt is rolled back
		if m.state == SubscribingCharacteristics && m.subs.activeCount() == 0 {
			m.transitionLocked(Connected)
		}
	}
	fut.resolve(err)
}

func (m *Manager) deliver(epoch uint64, link device.Link, c device.CharacteristicInfo, data []byte) {
	p := Payload{
		Peripheral:     link.Address(),
		Service:        c.Service,
		Characteristic: c.UUID,
		Data:           data,
		ReceivedAt:     time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.link != link || !m.state.linked() {
		return
	}
	if !m.subs.record(p) {
		return
	}
	if m.state == SubscribingCharacteristics {
		m.transitionLocked(Streaming)
	}
	m.post(func(h Handler) { h.OnPayload(p) })
}

// Disconnect closes the connection to the current peripheral. The peripheral
// stays cached, so Connect can be called again from Idle.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if !m.state.linked() {
		err := &StateError{Op: "disconnect", State: m.state}
		m.mu.Unlock()
		return err
	}

	m.logger.WithField("address", m.target).Info("Disconnecting from BLE device...")
	l := m.teardownLocked(nil, Disconnected)
	m.mu.Unlock()

	closeLink(l, m.logger)
	return nil
}

// Stop cancels whatever the session is doing and returns it to Idle.
// Safe to call from any state and more than once.
func (m *Manager) Stop() {
	m.mu.Lock()

	m.epoch++
	from := m.state

	m.stopScanLocked(nil)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.connectFuture != nil {
		m.connectFuture.resolve(context.Canceled)
		m.connectFuture = nil
	}

	var l device.Link
	if from.linked() {
		l = m.teardownLocked(nil, Idle)
	}
	if m.subscribeFuture != nil {
		m.subscribeFuture.resolve(context.Canceled)
		m.subscribeFuture = nil
	}

	m.target = ""
	m.subs.clear()
	m.pruneCacheLocked("")
	if m.state != Idle {
		m.transitionLocked(Idle)
	}
	if from != Idle {
		m.logger.WithField("from", from).Info("Session stopped")
	}
	m.mu.Unlock()

	closeLink(l, m.logger)
}

// Close stops the session and waits until every queued event has been handled.
// Must not be called from a Handler method.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Stop()
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.dispatch.close()
	})
}

// AdapterStateChanged reacts to a platform adapter state notification.
// New registers it with the radio's OnStateChange.
// Losing the radio fails the current operation with ErrRadioUnavailable.
func (m *Manager) AdapterStateChanged(state device.AdapterState) {
	m.mu.Lock()

	m.logger.WithFields(logrus.Fields{
		"adapter_state": state,
		"session_state": m.state,
	}).Info("Bluetooth adapter state changed")

	cause := state.Err()
	if cause == nil || m.state == Idle {
		m.mu.Unlock()
		return
	}
	err := fmt.Errorf("%s interrupted: %w", m.state, cause)

	var l device.Link
	switch {
	case m.state == Scanning:
		m.stopScanLocked(err)
		m.pruneCacheLocked("")
		m.failLocked(err)

	case m.state == Connecting:
		m.dialCancel()
		m.dialCancel = nil
		m.connectFuture.resolve(err)
		m.connectFuture = nil
		m.target = ""
		m.failLocked(err)

	case m.state.linked():
		l = m.teardownLocked(err, Failed)
	}
	m.mu.Unlock()

	closeLink(l, m.logger)
}

// Read reads a characteristic value from the connected peripheral.
func (m *Manager) Read(ctx context.Context, char string) ([]byte, error) {
	link, err := m.currentLink()
	if err != nil {
		return nil, err
	}
	return link.Read(ctx, char)
}

// Write writes a characteristic value to the connected peripheral.
func (m *Manager) Write(ctx context.Context, char string, data []byte, withResponse bool) error {
	link, err := m.currentLink()
	if err != nil {
		return err
	}
	return link.Write(ctx, char, data, withResponse)
}

func (m *Manager) currentLink() (device.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link == nil || !m.state.linked() {
		return nil, device.ErrNotConnected
	}
	return m.link, nil
}

// Peripheral returns a cached peripheral by identifier.
func (m *Manager) Peripheral(id string) (device.DiscoveredPeripheral, bool) {
	return m.peripherals.Get(id)
}

// Peripherals returns every cached peripheral ordered by discovery time.
func (m *Manager) Peripherals() []device.DiscoveredPeripheral {
	out := make([]device.DiscoveredPeripheral, 0, m.peripherals.Len())
	m.peripherals.Range(func(_ string, p device.DiscoveredPeripheral) bool {
		out = append(out, p)
		return true
	})
	slices.SortFunc(out, func(a, b device.DiscoveredPeripheral) int {
		if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Connected returns the connected peripheral, if any.
func (m *Manager) Connected() (device.DiscoveredPeripheral, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link == nil {
		return device.DiscoveredPeripheral{}, false
	}
	return m.peripherals.Get(m.target)
}

// Latest returns the most recent payload received from char.
func (m *Manager) Latest(char string) (Payload, bool) {
	p, ok := m.subs.latest(device.NormalizeUUID(char))
	if ok {
		p.Peripheral = m.connectedAddress()
	}
	return p, ok
}

// History returns the buffered payloads received from char, oldest first.
func (m *Manager) History(char string) []Payload {
	return m.subs.history(device.NormalizeUUID(char))
}

// Subscriptions returns the active subscriptions in the order they were made.
func (m *Manager) Subscriptions() []Subscription {
	return m.subs.list()
}

func (m *Manager) connectedAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// teardownLocked detaches the current link, reports the disconnection once
// and leaves the session Idle via the given terminal state. The returned link
// must be closed after the lock is released.
func (m *Manager) teardownLocked(reason error, via State) device.Link {
	l := m.link
	m.link = nil
	m.subs.clear()
	if m.subscribeFuture != nil {
		m.subscribeFuture.resolve(device.ErrNotConnected)
		m.subscribeFuture = nil
	}

	p, _ := m.peripherals.Get(m.target)
	m.target = ""

	if via == Failed {
		m.post(func(h Handler) { h.OnError(reason) })
	}
	if via != Idle {
		m.transitionLocked(via)
	}
	m.post(func(h Handler) { h.OnDisconnected(p, reason) })
	m.transitionLocked(Idle)
	return l
}

// failLocked reports err and passes through Failed back to Idle.
func (m *Manager) failLocked(err error) {
	m.post(func(h Handler) { h.OnError(err) })
	m.transitionLocked(Failed)
	m.transitionLocked(Idle)
}

func (m *Manager) stopScanLocked(err error) {
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	if m.discovery != nil {
		m.discovery.finish(err)
		m.discovery = nil
	}
}

// pruneCacheLocked drops every cached peripheral except keep.
func (m *Manager) pruneCacheLocked(keep string) {
	var drop []string
	m.peripherals.Range(func(id string, _ device.DiscoveredPeripheral) bool {
		if id != keep {
			drop = append(drop, id)
		}
		return true
	})
	for _, id := range drop {
		m.peripherals.Del(id)
	}
}

func (m *Manager) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("Session state changed")
	m.post(func(h Handler) { h.OnStateChanged(from, to) })
}

func (m *Manager) post(fn func(Handler)) {
	h := m.handler
	m.dispatch.post(func() { fn(h) })
}

// flush waits until every event queued so far has reached the handler.
func (m *Manager) flush() {
	m.dispatch.flush()
}

func closeLink(l device.Link, logger *logrus.Logger) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		logger.WithFields(logrus.Fields{
			"address": l.Address(),
			"error":   err,
		}).Warn("Failed to close peripheral connection")
	}
}
