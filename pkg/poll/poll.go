// Package poll implements the sleep-then-check loop used to wait on remote
// scraping jobs. The clock is injectable so loops can be driven in tests
// without real sleeps, and every loop honours context cancellation.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExhausted is returned when MaxAttempts checks ran without reaching a
// terminal state.
var ErrExhausted = errors.New("poll: attempts exhausted")

// CheckFunc inspects remote state. It reports done=true once a terminal state
// is reached; a non-nil error stops the loop immediately.
type CheckFunc func(ctx context.Context, attempt int) (done bool, err error)

// Policy configures a poll loop.
type Policy struct {
	// Interval is slept before every check, including the first.
	Interval time.Duration
	// MaxAttempts bounds the number of checks. Zero or less means unbounded,
	// leaving ctx as the only bound.
	MaxAttempts int
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

func (p Policy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// Do runs check until it reports done, returns an error, the attempt bound is
// hit, or ctx is cancelled. It returns the number of checks performed.
func (p Policy) Do(ctx context.Context, check CheckFunc) (int, error) {
	clock := p.clock()
	attempt := 0
	for p.MaxAttempts <= 0 || attempt < p.MaxAttempts {
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-clock.After(p.Interval):
		}

		attempt++
		done, err := check(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
	}
	return attempt, ErrExhausted
}

// Sleep waits d on the policy clock or until ctx is done.
func (p Policy) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock().After(d):
		return nil
	}
}
