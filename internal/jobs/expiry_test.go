package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeExpirer struct {
	batches []int
	err     error
}

func (f *fakeExpirer) ExpirePending(_ context.Context, _ time.Duration, batchSize int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	if n > batchSize {
		n = batchSize
	}
	return n, nil
}

func TestExpiryWorker_DrainsFullBatchesImmediately(t *testing.T) {
	// Two full batches then a partial one: a single tick should work
	// through all three without waiting for the next interval.
	expirer := &fakeExpirer{batches: []int{10, 10, 3}}
	w := NewExpiryWorker(expirer, discardLogger(), ExpiryConfig{
		Interval:  time.Hour,
		TTL:       30 * time.Minute,
		BatchSize: 10,
	})

	w.tick(context.Background())

	if len(expirer.batches) != 0 {
		t.Fatalf("expected all batches drained, %d remaining", len(expirer.batches))
	}
}

func TestExpiryWorker_ErrorDoesNotLoop(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db down")}
	w := NewExpiryWorker(expirer, discardLogger(), ExpiryConfig{BatchSize: 10})

	// Must return, not retry in a tight loop.
	w.tick(context.Background())
}

func TestExpiryWorker_StopsOnContextCancel(t *testing.T) {
	w := NewExpiryWorker(&fakeExpirer{}, discardLogger(), ExpiryConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
