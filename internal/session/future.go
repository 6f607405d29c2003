package session

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous session operation.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve completes the future. Only the first call has an effect.
func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the operation completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the operation result. It is nil while the operation is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
