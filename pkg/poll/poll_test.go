package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestPolicy_SleepsBeforeEachCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClock()
	p := Policy{Interval: 5 * time.Second, MaxAttempts: 3, Clock: fc}

	var calls atomic.Int32
	type result struct {
		attempts int
		err      error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
			calls.Add(1)
			return false, nil
		})
		done <- result{n, err}
	}()

	for i := 0; i < 3; i++ {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for sleeper %d: %v", i, err)
		}
		if got := calls.Load(); got != int32(i) {
			t.Fatalf("expected %d checks before advancing, got %d", i, got)
		}
		fc.Advance(5 * time.Second)
	}

	res := <-done
	if !errors.Is(res.err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", res.err)
	}
	if res.attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", res.attempts, calls.Load())
	}
}

func TestPolicy_StopsWhenDone(t *testing.T) {
	p := Policy{Interval: time.Millisecond, MaxAttempts: 10}

	n, err := p.Do(context.Background(), func(ctx context.Context, attempt int) (bool, error) {
		return attempt == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestPolicy_CheckErrorStopsLoop(t *testing.T) {
	boom := errors.New("boom")
	p := Policy{Interval: time.Millisecond}

	n, err := p.Do(context.Background(), func(ctx context.Context, attempt int) (bool, error) {
		if attempt == 2 {
			return false, boom
		}
		return false, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestPolicy_UnboundedHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := Policy{Interval: time.Millisecond}
	_, err := p.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPolicy_Sleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Clock: clockwork.NewFakeClock()}
	if err := p.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if err := p.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep should return immediately, got %v", err)
	}
}
