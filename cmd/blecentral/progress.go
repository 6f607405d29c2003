package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blecentral/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line updated with the current phase
// and elapsed (or remaining) seconds.
//
//	p := NewProgressPrinter(w, "Scanning for BLE devices", "Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start once, Stop at least once.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration // zero counts up
	phase    atomic.Value  // string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that counts down from duration, or up when duration is zero.
func NewProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// SetPhase changes the phase shown on the next update. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		start := time.Now()
		p.print(p.phase.Load().(string), 0)

		groutine.Go(context.Background(), "progress-printer", func(context.Context) {
			defer close(p.done)

			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					p.print(p.phase.Load().(string), p.seconds(time.Since(start)))
				}
			}
		})
	})
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		// Never started: nothing to wait for
		p.startOnce.Do(func() { close(p.done) })
		close(p.stop)
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}
