package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
)

func newTestQueue(t *testing.T, workers int) *Queue {
	t.Helper()
	q := New(workers, 16, zap.NewNop())
	q.sleep = func(time.Duration) {}
	return q
}

func TestQueue_ExecutesJob(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan struct{})
	ok := q.Enqueue(Job{
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	q.Stop()
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := newTestQueue(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var attempts int32
	done := make(chan struct{})
	q.Enqueue(Job{
		Policy: RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}},
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return apperr.Transient(errors.New("flaky"))
			}
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried to success")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	q.Stop()
}

func TestQueue_DoesNotRetryTerminalErrors(t *testing.T) {
	q := newTestQueue(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var attempts int32
	q.Enqueue(Job{
		Key:    "terminal",
		Policy: RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("permanent")
		},
	})

	q.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestQueue_DeduplicatesByKey(t *testing.T) {
	q := newTestQueue(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	first := q.Enqueue(Job{
		Key: "task_action:1:77:complete",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.True(t, first)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	<-started

	// Same key while the first is in flight: dropped.
	dup := q.Enqueue(Job{
		Key: "task_action:1:77:complete",
		Run: func(ctx context.Context) error { return nil },
	})
	assert.False(t, dup)

	// Different key passes.
	other := q.Enqueue(Job{
		Key: "task_action:1:77:claim",
		Run: func(ctx context.Context) error { return nil },
	})
	assert.True(t, other)

	close(release)

	// After completion the key is free again.
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, busy := q.pending["task_action:1:77:complete"]
		return !busy
	}, 2*time.Second, 10*time.Millisecond)

	again := q.Enqueue(Job{
		Key: "task_action:1:77:complete",
		Run: func(ctx context.Context) error { return nil },
	})
	assert.True(t, again)
	q.Stop()
}

func TestQueue_AppliesAttemptTimeout(t *testing.T) {
	q := newTestQueue(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	timedOut := make(chan bool, 1)
	q.Enqueue(Job{
		Policy: RetryPolicy{MaxAttempts: 1, Timeout: 20 * time.Millisecond},
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				timedOut <- true
			case <-time.After(2 * time.Second):
				timedOut <- false
			}
			return nil
		},
	})

	select {
	case got := <-timedOut:
		assert.True(t, got)
	case <-time.After(3 * time.Second):
		t.Fatal("job never observed its context")
	}
	q.Stop()
}
