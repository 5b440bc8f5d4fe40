// Package throttle caps transfer throughput by pacing chunk releases.
//
// The limiter keeps only the time it started and the number of bytes it has
// released. Before a chunk of n bytes is released it computes how long the
// transfer should have taken at the configured rate (B/limit) and sleeps for
// whatever part of that has not yet elapsed. There is no burst allowance.
package throttle

import (
	"context"
	"io"
	"sync"
	"time"
)

// Unlimited disables throttling when passed as a limit.
const Unlimited = 0

// Limiter paces byte releases so the average rate measured from the first
// release does not exceed BytesPerSecond.
type Limiter struct {
	bytesPerSecond float64

	mu      sync.Mutex
	started bool
	start   time.Time
	passed  int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter for the given rate. A rate <= 0 never delays.
func New(bytesPerSecond int64) *Limiter {
	return &Limiter{
		bytesPerSecond: float64(bytesPerSecond),
		now:            time.Now,
		sleep:          sleepContext,
	}
}

// Limit returns the configured rate in bytes per second (0 when unlimited).
func (l *Limiter) Limit() int64 {
	if l.bytesPerSecond <= 0 {
		return Unlimited
	}
	return int64(l.bytesPerSecond)
}

// Wait accounts for n bytes and blocks until releasing them keeps the average
// rate within the limit. It returns early with ctx.Err() when ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l.bytesPerSecond <= 0 || n <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	if !l.started {
		l.started = true
		l.start = now
	}
	l.passed += int64(n)
	expected := time.Duration(float64(l.passed) / l.bytesPerSecond * float64(time.Second))
	elapsed := now.Sub(l.start)
	l.mu.Unlock()

	if expected <= elapsed {
		return ctx.Err()
	}
	return l.sleep(ctx, expected-elapsed)
}

// Passed returns the cumulative number of bytes accounted so far.
func (l *Limiter) Passed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.passed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reader releases bytes read from the underlying reader through a Limiter.
type Reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so each Read is paced by limiter.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) *Reader {
	return &Reader{ctx: ctx, r: r, limiter: limiter}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.Wait(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
