package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type fakeAdopter struct {
	ready      atomic.Bool
	restoreErr error
	restores   atomic.Int32
	activated  atomic.Bool
}

func (f *fakeAdopter) Restore(ctx context.Context) (bool, error) {
	f.restores.Add(1)
	if f.restoreErr != nil {
		return false, f.restoreErr
	}
	return f.ready.Load(), nil
}

func (f *fakeAdopter) Activate(ctx context.Context) error {
	f.activated.Store(true)
	return nil
}

func TestAdoptInstall(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("activates once the worker commits", func(t *testing.T) {
		a := &fakeAdopter{}
		done := make(chan bool, 1)
		go func() { done <- AdoptInstall(context.Background(), a, time.Millisecond, zerolog.Nop()) }()

		assert.Eventually(t, func() bool { return a.restores.Load() >= 2 }, time.Second, time.Millisecond)
		assert.False(t, a.activated.Load())

		a.ready.Store(true)
		assert.True(t, <-done)
		assert.True(t, a.activated.Load())
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		a := &fakeAdopter{restoreErr: errors.New("store down")}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		assert.False(t, AdoptInstall(ctx, a, time.Millisecond, zerolog.Nop()))
		assert.False(t, a.activated.Load())
		assert.Positive(t, a.restores.Load())
	})
}
