package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey struct{}

func TestGo(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), testKey{}, "parent"))

	type seen struct {
		name, label, value string
		cancelled          bool
	}
	done := make(chan seen, 1)

	Go(parent, "worker-42", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, labelKey)
		<-ctx.Done()
		done <- seen{
			name:      Name(ctx),
			label:     label,
			value:     ctx.Value(testKey{}).(string),
			cancelled: ctx.Err() != nil,
		}
	})
	cancel()

	select {
	case got := <-done:
		assert.Equal(t, "worker-42", got.name)
		assert.Equal(t, "worker-42", got.label, "pprof label MUST be set")
		assert.Equal(t, "parent", got.value, "parent values MUST be visible")
		assert.True(t, got.cancelled, "parent cancellation MUST propagate")
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_NilParent(t *testing.T) {
	done := make(chan string, 1)
	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "nil-parent", func(ctx context.Context) { done <- Name(ctx) })

	select {
	case name := <-done:
		require.Equal(t, "nil-parent", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestName_Unnamed(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
	assert.Empty(t, Name(nil)) //nolint:staticcheck
}
