package goble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

const (
	// DefaultBLEWriteChunkSize is the maximum number of bytes sent in a single write without response.
	// ATT_MTU of 23 bytes leaves 20 bytes of payload.
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// link implements device.Link on a go-ble client.
type link struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	chars map[string]*ble.Characteristic // normalized char UUID -> handle
	infos []device.CharacteristicInfo

	mu         sync.Mutex
	subscribed map[string]bool // normalized char UUID -> indicate mode
	writeMutex sync.Mutex

	disconnected chan struct{}
	closeOnce    sync.Once
	lostOnce     sync.Once
}

func newLink(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *link {
	l := &link{
		address:      address,
		client:       client,
		logger:       logger,
		chars:        make(map[string]*ble.Characteristic),
		subscribed:   make(map[string]bool),
		disconnected: make(chan struct{}),
	}

	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			charUUID := device.NormalizeUUID(c.UUID.String())
			if _, dup := l.chars[charUUID]; dup {
				logger.WithFields(logrus.Fields{
					"service_uuid": svcUUID,
					"char_uuid":    charUUID,
				}).Debug("Duplicate characteristic UUID, keeping first")
				continue
			}
			l.chars[charUUID] = c
			l.infos = append(l.infos, device.CharacteristicInfo{
				Service:   svcUUID,
				UUID:      charUUID,
				KnownName: bledb.LookupCharacteristic(charUUID),
				Notify:    c.Property&ble.CharNotify != 0,
				Indicate:  c.Property&ble.CharIndicate != 0,
				Readable:  c.Property&ble.CharRead != 0,
				Writable:  c.Property&(ble.CharWrite|ble.CharWriteNR) != 0,
			})
		}
	}
	sort.Slice(l.infos, func(i, j int) bool {
		return l.infos[i].UUID < l.infos[j].UUID
	})

	// Platform clients report link loss through a Disconnected() channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				logger.WithField("address", address).Warn("Platform reported disconnection")
				l.markLost()
			case <-l.disconnected:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(l.infos),
	}).Info("BLE device connected successfully")
	return l
}

func (l *link) Address() string { return l.address }

func (l *link) Characteristics() []device.CharacteristicInfo {
	out := make([]device.CharacteristicInfo, len(l.infos))
	copy(out, l.infos)
	return out
}

func (l *link) Disconnected() <-chan struct{} { return l.disconnected }

func (l *link) markLost() {
	l.lostOnce.Do(func() { close(l.disconnected) })
}

func (l *link) lookup(uuid string) (*ble.Characteristic, error) {
	c, ok := l.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{l.address, uuid}}
	}
	return c, nil
}

// Subscribe enables notifications, falling back to indications when the characteristic only indicates.
func (l *link) Subscribe(uuid string, handler func([]byte)) error {
	c, err := l.lookup(uuid)
	if err != nil {
		return err
	}

	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s: notifications %w", uuid, device.ErrUnsupported)
	}

	if err := l.client.Subscribe(c, indicate, func(data []byte) {
		// go-ble reuses the notification buffer
		payload := make([]byte, len(data))
		copy(payload, data)
		handler(payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, NormalizeError(err))
	}

	l.mu.Lock()
	l.subscribed[device.NormalizeUUID(uuid)] = indicate
	l.mu.Unlock()
	return nil
}

func (l *link) Unsubscribe(uuid string) error {
	c, err := l.lookup(uuid)
	if err != nil {
		return err
	}

	key := device.NormalizeUUID(uuid)
	l.mu.Lock()
	indicate, ok := l.subscribed[key]
	delete(l.subscribed, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := l.client.Unsubscribe(c, indicate); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", uuid, NormalizeError(err))
	}
	return nil
}

// Read reads a characteristic value, giving up when ctx is done.
func (l *link) Read(ctx context.Context, uuid string) ([]byte, error) {
	c, err := l.lookup(uuid)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "ble-read", func(context.Context) {
		data, err := l.client.ReadCharacteristic(c)
		done <- result{data: data, err: err}
	})

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, NormalizeError(res.err))
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("reading characteristic %s: %w: %v", uuid, device.ErrTimeout, ctx.Err())
	}
}

// Write writes data to a characteristic. Writes without response are split into
// DefaultBLEWriteChunkSize chunks; writes with response are sent as-is.
func (l *link) Write(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	c, err := l.lookup(uuid)
	if err != nil {
		return err
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	if withResponse {
		if err := l.client.WriteCharacteristic(c, data, false); err != nil {
			return fmt.Errorf("failed to write to characteristic %s: %w", uuid, NormalizeError(err))
		}
		return nil
	}

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), DefaultBLEWriteChunkSize)
		if err := l.client.WriteCharacteristic(c, data[:n], true); err != nil {
			return fmt.Errorf("failed to write to characteristic %s: %w", uuid, NormalizeError(err))
		}
		data = data[n:]
		time.Sleep(DefaultBLEWriteDelay)
	}
	return nil
}

// Close unsubscribes from every active characteristic and cancels the connection.
func (l *link) Close() error {
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		active := make(map[string]bool, len(l.subscribed))
		for k, v := range l.subscribed {
			active[k] = v
		}
		l.subscribed = make(map[string]bool)
		l.mu.Unlock()

		for uuid, indicate := range active {
			if err := l.client.Unsubscribe(l.chars[uuid], indicate); err != nil {
				l.logger.WithFields(logrus.Fields{
					"char_uuid": uuid,
					"error":     err,
				}).Warn("Failed to unsubscribe during disconnect")
			}
		}

		closeErr = NormalizeError(l.client.CancelConnection())
		l.markLost()

		if closeErr != nil {
			l.logger.WithField("error", closeErr).Warn("BLE device disconnected with errors")
		} else {
			l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
		}
	})
	return closeErr
}
