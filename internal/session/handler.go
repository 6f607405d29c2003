package session

import (
	"time"

	"github.com/srg/blecentral/internal/device"
)

// Payload is a single notification or indication value received from a subscribed characteristic.
type Payload struct {
	Peripheral     string    `json:"peripheral"`
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	Data           []byte    `json:"data"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Handler receives session events. All methods are called from a single
// goroutine in the order the events happened, so implementations need no
// locking of their own and may call back into the Manager.
type Handler interface {
	OnStateChanged(from, to State)
	OnPeripheralDiscovered(p device.DiscoveredPeripheral)
	OnConnected(p device.DiscoveredPeripheral)

	// OnDisconnected is called exactly once per established connection.
	// err is nil for user-initiated disconnects.
	OnDisconnected(p device.DiscoveredPeripheral, err error)

	OnSubscribed(sub Subscription)
	OnPayload(p Payload)
	OnError(err error)
}

// HandlerFuncs adapts optional functions to the Handler interface. Nil fields are ignored.
type HandlerFuncs struct {
	StateChanged         func(from, to State)
	PeripheralDiscovered func(p device.DiscoveredPeripheral)
	Connected            func(p device.DiscoveredPeripheral)
	Disconnected         func(p device.DiscoveredPeripheral, err error)
	Subscribed           func(sub Subscription)
	PayloadReceived      func(p Payload)
	Error                func(err error)
}

func (h HandlerFuncs) OnStateChanged(from, to State) {
	if h.StateChanged != nil {
		h.StateChanged(from, to)
	}
}

func (h HandlerFuncs) OnPeripheralDiscovered(p device.DiscoveredPeripheral) {
	if h.PeripheralDiscovered != nil {
		h.PeripheralDiscovered(p)
	}
}

func (h HandlerFuncs) OnConnected(p device.DiscoveredPeripheral) {
	if h.Connected != nil {
		h.Connected(p)
	}
}

func (h HandlerFuncs) OnDisconnected(p device.DiscoveredPeripheral, err error) {
	if h.Disconnected != nil {
		h.Disconnected(p, err)
	}
}

func (h HandlerFuncs) OnSubscribed(sub Subscription) {
	if h.Subscribed != nil {
		h.Subscribed(sub)
	}
}

func (h HandlerFuncs) OnPayload(p Payload) {
	if h.PayloadReceived != nil {
		h.PayloadReceived(p)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnStateChanged(State, State)                        {}
func (NopHandler) OnPeripheralDiscovered(device.DiscoveredPeripheral) {}
func (NopHandler) OnConnected(device.DiscoveredPeripheral)            {}
func (NopHandler) OnDisconnected(device.DiscoveredPeripheral, error)  {}
func (NopHandler) OnSubscribed(Subscription)                          {}
func (NopHandler) OnPayload(Payload)                                  {}
func (NopHandler) OnError(error)                                      {}
