package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
)

// FakeLink is an in-memory device.Link. Tests push notifications with Notify
// and simulate link loss with Drop.
type FakeLink struct {
	address string
	infos   []device.CharacteristicInfo

	mu           sync.Mutex
	values       map[string][]byte
	handlers     map[string]func([]byte)
	writes       map[string][][]byte
	subscribeErr map[string]error
	closed       bool
	closeCount   int

	disconnected chan struct{}
	dropOnce     sync.Once
}

var _ device.Link = (*FakeLink)(nil)

func (l *FakeLink) Address() string { return l.address }

func (l *FakeLink) Characteristics() []device.CharacteristicInfo {
	return slices.Clone(l.infos)
}

func (l *FakeLink) info(uuid string) (device.CharacteristicInfo, error) {
	key := device.NormalizeUUID(uuid)
	for _, c := range l.infos {
		if c.UUID == key {
			return c, nil
		}
	}
	return device.CharacteristicInfo{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{l.address, uuid}}
}

func (l *FakeLink) Subscribe(uuid string, handler func([]byte)) error {
	c, err := l.info(uuid)
	if err != nil {
		return err
	}
	if !c.CanNotify() {
		return fmt.Errorf("characteristic %s: notifications %w", uuid, device.ErrUnsupported)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrNotConnected
	}
	if err := l.subscribeErr[c.UUID]; err != nil {
		return err
	}
	l.handlers[c.UUID] = handler
	return nil
}

func (l *FakeLink) Unsubscribe(uuid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, device.NormalizeUUID(uuid))
	return nil
}

func (l *FakeLink) Read(ctx context.Context, uuid string) ([]byte, error) {
	c, err := l.info(uuid)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.values[c.UUID]), nil
}

func (l *FakeLink) Write(ctx context.Context, uuid string, data []byte, _ bool) error {
	c, err := l.info(uuid)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[c.UUID] = slices.Clone(data)
	l.writes[c.UUID] = append(l.writes[c.UUID], slices.Clone(data))
	return nil
}

func (l *FakeLink) Disconnected() <-chan struct{} { return l.disconnected }

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.closeCount++
	l.handlers = make(map[string]func([]byte))
	l.mu.Unlock()

	l.Drop()
	return nil
}

// Drop simulates the peripheral going away.
func (l *FakeLink) Drop() {
	l.dropOnce.Do(func() { close(l.disconnected) })
}

// Notify delivers data to the subscriber of uuid. Reports whether a subscriber existed.
func (l *FakeLink) Notify(uuid string, data []byte) bool {
	l.mu.Lock()
	h, ok := l.handlers[device.NormalizeUUID(uuid)]
	l.mu.Unlock()

	if ok {
		h(data)
	}
	return ok
}

// FailSubscribe makes every future Subscribe on uuid return err.
func (l *FakeLink) FailSubscribe(uuid string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribeErr[device.NormalizeUUID(uuid)] = err
}

// Subscribed reports whether uuid currently has a subscriber.
func (l *FakeLink) Subscribed(uuid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handlers[device.NormalizeUUID(uuid)]
	return ok
}

func (l *FakeLink) Writes(uuid string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.writes[device.NormalizeUUID(uuid)])
}

func (l *FakeLink) CloseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCount
}

// PeripheralBuilder builds a FakeLink describing a peripheral GATT profile.
//
//	link := testutils.NewPeripheralBuilder("AA:BB:CC:DD:EE:FF").
//	    WithService("180D").
//	    WithCharacteristic("2A37", "read,notify", []byte{80}).
//	    Build()
type PeripheralBuilder struct {
	address string
	service string
	infos   []device.CharacteristicInfo
	values  map[string][]byte
}

func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		address: address,
		values:  make(map[string][]byte),
	}
}

// WithService sets the service for subsequently added characteristics.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.service = device.NormalizeUUID(uuid)
	return b
}

// WithCharacteristic adds a characteristic with comma-separated properties
// (read, write, write-without-response, notify, indicate).
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	info := device.CharacteristicInfo{
		Service:   b.service,
		UUID:      device.NormalizeUUID(uuid),
		KnownName: bledb.LookupCharacteristic(uuid),
	}
	for _, p := range strings.Split(properties, ",") {
		switch strings.TrimSpace(strings.ToLower(p)) {
		case "read":
			info.Readable = true
		case "write", "write-without-response":
			info.Writable = true
		case "notify":
			info.Notify = true
		case "indicate":
			info.Indicate = true
		}
	}
	b.infos = append(b.infos, info)
	b.values[info.UUID] = value
	return b
}

type serviceJSON struct {
	UUID            string `json:"uuid"`
	Characteristics []struct {
		UUID       string `json:"uuid"`
		Properties string `json:"properties"`
		Value      []int  `json:"value"`
	} `json:"characteristics"`
}

// FromJSON adds services decoded from a JSON profile. Panics on invalid JSON.
//
//	{"services": [{"uuid": "180F", "characteristics": [{"uuid": "2A19", "properties": "read,notify"}]}]}
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	raw := fmt.Sprintf(jsonStrFmt, args...)
	var profile struct {
		Services []serviceJSON `json:"services"`
	}
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		panic(fmt.Sprintf("invalid peripheral JSON: %v\n%s", err, raw))
	}
	for _, svc := range profile.Services {
		b.WithService(svc.UUID)
		for _, c := range svc.Characteristics {
			value := make([]byte, len(c.Value))
			for i, v := range c.Value {
				value[i] = byte(v)
			}
			b.WithCharacteristic(c.UUID, c.Properties, value)
		}
	}
	return b
}

func (b *PeripheralBuilder) Build() *FakeLink {
	infos := slices.Clone(b.infos)
	slices.SortFunc(infos, func(x, y device.CharacteristicInfo) int {
		return strings.Compare(x.UUID, y.UUID)
	})

	values := make(map[string][]byte, len(b.values))
	for k, v := range b.values {
		values[k] = slices.Clone(v)
	}

	return &FakeLink{
		address:      b.address,
		infos:        infos,
		values:       values,
		handlers:     make(map[string]func([]byte)),
		writes:       make(map[string][][]byte),
		subscribeErr: make(map[string]error),
		disconnected: make(chan struct{}),
	}
}
