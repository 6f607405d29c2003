package device

import (
	"context"
	"time"
)

// AdapterState mirrors the central manager power/authorization states reported by the platform.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterResetting:
		return "resetting"
	case AdapterUnsupported:
		return "unsupported"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterPoweredOff:
		return "powered_off"
	case AdapterPoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Err returns the error an operation fails with when the adapter is in this state.
// Returns nil for AdapterPoweredOn.
func (s AdapterState) Err() error {
	switch s {
	case AdapterPoweredOn:
		return nil
	case AdapterPoweredOff:
		return ErrBluetoothOff
	case AdapterUnauthorized:
		return ErrUnauthorized
	default:
		return &RadioError{State: s}
	}
}

// Advertisement is a single advertising report received while scanning.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}

	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// Radio is the platform central-role boundary: adapter state, scanning and dialing.
type Radio interface {
	// State reports the current adapter state without blocking on the radio.
	State() AdapterState

	// Scan delivers advertisements to handler until ctx is done.
	// Returns nil (or the context error) when the scan ended because ctx was cancelled.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error

	// Dial connects to the peripheral with the given address and discovers its GATT profile.
	Dial(ctx context.Context, address string) (Link, error)

	// OnStateChange registers fn to be called whenever the adapter state changes.
	// fn must not be invoked while the radio holds locks a State call would need.
	OnStateChange(fn func(AdapterState))
}

// Link is a live connection to a single peripheral.
type Link interface {
	Address() string

	// Characteristics returns every characteristic in the discovered profile, sorted by UUID.
	Characteristics() []CharacteristicInfo

	Subscribe(uuid string, handler func([]byte)) error
	Unsubscribe(uuid string) error
	Read(ctx context.Context, uuid string) ([]byte, error)
	Write(ctx context.Context, uuid string, data []byte, withResponse bool) error

	// Disconnected is closed when the peripheral connection is lost for any reason.
	Disconnected() <-chan struct{}

	// Close cancels the connection. Safe to call more than once.
	Close() error
}

// CharacteristicInfo is the static description of a discovered characteristic.
type CharacteristicInfo struct {
	Service   string // normalized service UUID
	UUID      string // normalized characteristic UUID
	KnownName string
	Notify    bool
	Indicate  bool
	Readable  bool
	Writable  bool
}

// CanNotify reports whether the characteristic supports notifications or indications.
func (c CharacteristicInfo) CanNotify() bool {
	return c.Notify || c.Indicate
}

// DiscoveredPeripheral is a peripheral seen during a scan.
type DiscoveredPeripheral struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	RSSI             int               `json:"rssi"`
	TxPower          *int              `json:"tx_power,omitempty"`
	Connectable      bool              `json:"connectable"`
	Services         []string          `json:"services,omitempty"`
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"` // keyed by normalized service UUID
	DiscoveredAt     time.Time         `json:"discovered_at"`
	LastSeen         time.Time         `json:"last_seen"`
}

// DisplayName returns the advertised name, falling back to the identifier.
func (p DiscoveredPeripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

// HasService reports whether the peripheral advertised the given service UUID.
func (p DiscoveredPeripheral) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range p.Services {
		if s == want {
			return true
		}
	}
	return false
}
