package session

import (
	"sync"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Subscription describes an active characteristic subscription and its latest value.
type Subscription struct {
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	KnownName      string    `json:"known_name,omitempty"`
	SubscribedAt   time.Time `json:"subscribed_at"`
	Latest         []byte    `json:"latest,omitempty"`
	ReceivedAt     time.Time `json:"received_at,omitempty"`
	Count          uint64    `json:"count"`
}

type subscriptionEntry struct {
	info    Subscription
	active  bool
	history mpmc.RichOverlappedRingBuffer[Payload]
}

// subscriptionTable keeps subscriptions in the order they were requested,
// each with a bounded history of received payloads.
type subscriptionTable struct {
	logger      *logrus.Logger
	historySize uint32

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, *subscriptionEntry]
}

func newSubscriptionTable(historySize int, logger *logrus.Logger) *subscriptionTable {
	return &subscriptionTable{
		logger:      logger,
		historySize: uint32(historySize),
		entries:     orderedmap.New[string, *subscriptionEntry](),
	}
}

// reserve registers a pending subscription so payloads arriving before the
// subscribe call returns are not lost.
func (t *subscriptionTable) reserve(service, char, knownName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries.Get(char); ok {
		return
	}
	t.entries.Set(char, &subscriptionEntry{
		info: Subscription{
			Service:        service,
			Characteristic: char,
			KnownName:      knownName,
		},
		// The ring keeps one slot free to tell full from empty.
		history: mpmc.NewOverlappedRingBuffer[Payload](t.historySize + 1),
	})
}

// activate marks a reserved subscription as confirmed and returns its snapshot.
func (t *subscriptionTable) activate(char string, at time.Time) (Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(char)
	if !ok {
		return Subscription{}, false
	}
	e.active = true
	e.info.SubscribedAt = at
	return e.snapshot(), true
}

func (t *subscriptionTable) remove(char string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(char)
}

// record stores a payload. Returns false when the characteristic is not in the table.
func (t *subscriptionTable) record(p Payload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(p.Characteristic)
	if !ok {
		return false
	}
	e.info.Latest = p.Data
	e.info.ReceivedAt = p.ReceivedAt
	e.info.Count++

	overwrites, err := e.history.EnqueueM(p)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"char_uuid": p.Characteristic,
			"error":     err,
		}).Warn("Failed to store payload history")
	} else if overwrites > 0 {
		t.logger.WithFields(logrus.Fields{
			"char_uuid":  p.Characteristic,
			"overwrites": overwrites,
		}).Trace("Payload history overwritten")
	}
	return true
}

func (t *subscriptionTable) latest(char string) (Payload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(char)
	if !ok || e.info.Count == 0 {
		return Payload{}, false
	}
	return Payload{
		Service:        e.info.Service,
		Characteristic: e.info.Characteristic,
		Data:           e.info.Latest,
		ReceivedAt:     e.info.ReceivedAt,
	}, true
}

// history returns buffered payloads for char, oldest first.
func (t *subscriptionTable) history(char string) []Payload {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(char)
	if !ok {
		return nil
	}

	// The ring only supports destructive reads: drain it, then put everything back.
	var out []Payload
	for !e.history.IsEmpty() {
		p, err := e.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, p)
	}
	for _, p := range out {
		_, _ = e.history.EnqueueM(p)
	}

	if n := int(t.historySize); len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// list returns confirmed subscriptions in subscribe order.
func (t *subscriptionTable) list() []Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Subscription, 0, t.entries.Len())
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.active {
			out = append(out, pair.Value.snapshot())
		}
	}
	return out
}

func (t *subscriptionTable) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.active {
			n++
		}
	}
	return n
}

func (t *subscriptionTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = orderedmap.New[string, *subscriptionEntry]()
}

func (e *subscriptionEntry) snapshot() Subscription {
	s := e.info
	if s.Latest != nil {
		s.Latest = append([]byte(nil), s.Latest...)
	}
	return s
}
