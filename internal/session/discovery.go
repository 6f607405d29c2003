package session

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// ScanFilter configures which advertisements a scan reports.
type ScanFilter struct {
	// Services keeps peripherals advertising at least one of these service UUIDs.
	Services []string
	// AllowList keeps only these addresses when non-empty.
	AllowList []string
	// BlockList drops these addresses.
	BlockList []string
	// AllowDuplicates asks the radio to report every advertisement, not only the first per peripheral.
	AllowDuplicates bool
	// Duration ends the scan automatically when positive.
	Duration time.Duration
}

// match applies block, allow and service filters to a normalized peripheral.
// Addresses compare case-insensitively; platforms differ in hex case.
func (f ScanFilter) match(p device.DiscoveredPeripheral) bool {
	sameAddress := func(addr string) bool { return strings.EqualFold(addr, p.ID) }

	if slices.ContainsFunc(f.BlockList, sameAddress) {
		return false
	}
	if len(f.AllowList) > 0 && !slices.ContainsFunc(f.AllowList, sameAddress) {
		return false
	}
	if len(f.Services) > 0 {
		for _, svc := range f.Services {
			if p.HasService(svc) {
				return true
			}
		}
		return false
	}
	return true
}

// Discovery is the stream of peripherals found by a single scan.
type Discovery struct {
	mu      sync.Mutex
	items   []device.DiscoveredPeripheral
	seen    map[string]struct{}
	changed chan struct{} // closed and replaced whenever items grow or the scan ends
	ended   bool
	err     error
	done    chan struct{}
}

func newDiscovery() *Discovery {
	return &Discovery{
		seen:    make(map[string]struct{}),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *Discovery) add(p device.DiscoveredPeripheral) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ended {
		return
	}
	if _, dup := d.seen[p.ID]; dup {
		return
	}
	d.seen[p.ID] = struct{}{}
	d.items = append(d.items, p)
	close(d.changed)
	d.changed = make(chan struct{})
}

// has reports whether this scan already reported id.
func (d *Discovery) has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// finish ends the stream. Only the first call has an effect.
func (d *Discovery) finish(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ended {
		return
	}
	d.ended = true
	d.err = err
	close(d.changed)
	close(d.done)
}

// Done is closed when the scan has ended.
func (d *Discovery) Done() <-chan struct{} {
	return d.done
}

// Err returns the error the scan ended with, nil for a normal stop.
func (d *Discovery) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Snapshot returns the peripherals discovered so far, in discovery order.
func (d *Discovery) Snapshot() []device.DiscoveredPeripheral {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.items)
}

// Peripherals returns a sequence over discovered peripherals. Each iteration
// starts from the first discovery and follows live discoveries until the scan
// ends or ctx is done. Each peripheral is yielded once, as first seen.
func (d *Discovery) Peripherals(ctx context.Context) iter.Seq[device.DiscoveredPeripheral] {
	return func(yield func(device.DiscoveredPeripheral) bool) {
		next := 0
		for {
			d.mu.Lock()
			for next < len(d.items) {
				p := d.items[next]
				next++
				d.mu.Unlock()
				if !yield(p) {
					return
				}
				d.mu.Lock()
			}
			ended, changed := d.ended, d.changed
			d.mu.Unlock()

			if ended {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}
}
