package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	apperrors "shotgun-exporter/pkg/app_errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	calls atomic.Int32
	errs  []error
}

func (c *fakeCollector) RestoreCounters(ctx context.Context) error { return nil }

func (c *fakeCollector) Collect(ctx context.Context) error {
	n := int(c.calls.Add(1)) - 1
	if n < len(c.errs) {
		return c.errs[n]
	}
	return nil
}

func TestPollWorker_Run(t *testing.T) {
	t.Run("Success - stops cleanly on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		collector := &fakeCollector{}
		worker := NewPollWorker(collector, 10*time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- worker.Run(ctx) }()

		// Let a few cycles run, then stop.
		require.Eventually(t, func() bool {
			return collector.calls.Load() >= 2
		}, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("worker did not stop after cancel")
		}
	})

	t.Run("Success - upstream failure skips cycle and keeps running", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		collector := &fakeCollector{
			errs: []error{fmt.Errorf("%w: 502", apperrors.ErrUpstream)},
		}
		worker := NewPollWorker(collector, 10*time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- worker.Run(ctx) }()

		// The worker must survive the failed first cycle and keep polling.
		require.Eventually(t, func() bool {
			return collector.calls.Load() >= 3
		}, time.Second, time.Millisecond)

		select {
		case err := <-done:
			t.Fatalf("worker stopped unexpectedly: %v", err)
		default:
		}
	})

	t.Run("Failed - store failure stops the worker", func(t *testing.T) {
		storeErr := errors.New("database is locked")
		collector := &fakeCollector{errs: []error{storeErr}}
		worker := NewPollWorker(collector, 10*time.Millisecond)

		err := worker.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, storeErr)
		assert.Equal(t, int32(1), collector.calls.Load())
	})
}
