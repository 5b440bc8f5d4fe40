package throttle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.slept += d
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newFakeLimiter(rate int64) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(rate)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestWaitFollowsCumulativeAverage(t *testing.T) {
	l, clock := newFakeLimiter(1000)
	ctx := context.Background()

	// 500 bytes at 1000 B/s should take 500ms total.
	if err := l.Wait(ctx, 500); err != nil {
		t.Fatal(err)
	}
	if clock.slept != 500*time.Millisecond {
		t.Fatalf("slept %v, want 500ms", clock.slept)
	}

	// Another 1500 bytes: cumulative 2000 => 2s expected, 500ms elapsed.
	if err := l.Wait(ctx, 1500); err != nil {
		t.Fatal(err)
	}
	if clock.slept != 2*time.Second {
		t.Fatalf("slept %v, want 2s", clock.slept)
	}
}

func TestWaitDoesNotDelayWhenBehindSchedule(t *testing.T) {
	l, clock := newFakeLimiter(1000)
	ctx := context.Background()

	if err := l.Wait(ctx, 100); err != nil {
		t.Fatal(err)
	}
	sleeps := clock.sleeps

	// Simulate a slow producer: 5s pass before the next chunk.
	clock.now = clock.now.Add(5 * time.Second)
	if err := l.Wait(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if clock.sleeps != sleeps {
		t.Errorf("limiter should forward immediately when expected <= elapsed")
	}
}

func TestMonotonicThrottlingLaw(t *testing.T) {
	sizes := []struct {
		rate  int64
		total int
		chunk int
	}{
		{rate: 1024, total: 10 * 1024, chunk: 100},
		{rate: 600 * 1024, total: 5 * 1024 * 1024, chunk: 32 * 1024},
		{rate: 1, total: 7, chunk: 3},
	}

	for _, tt := range sizes {
		l, clock := newFakeLimiter(tt.rate)
		start := clock.now
		for sent := 0; sent < tt.total; sent += tt.chunk {
			n := tt.chunk
			if sent+n > tt.total {
				n = tt.total - sent
			}
			if err := l.Wait(context.Background(), n); err != nil {
				t.Fatal(err)
			}
		}
		minimum := time.Duration(float64(tt.total) / float64(tt.rate) * float64(time.Second))
		if elapsed := clock.now.Sub(start); elapsed < minimum {
			t.Errorf("rate=%d total=%d: elapsed %v < %v", tt.rate, tt.total, elapsed, minimum)
		}
	}
}

func TestUnlimitedNeverSleeps(t *testing.T) {
	l, clock := newFakeLimiter(Unlimited)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), 1<<20); err != nil {
			t.Fatal(err)
		}
	}
	if clock.sleeps != 0 {
		t.Errorf("unlimited limiter slept %d times", clock.sleeps)
	}
	if l.Limit() != Unlimited {
		t.Errorf("Limit() = %d, want unlimited", l.Limit())
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l := New(1) // one byte per second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, 1000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Wait did not return promptly on cancellation")
	}
}

func TestReaderPassesBytesThrough(t *testing.T) {
	payload := bytes.Repeat([]byte("updraft"), 1000)
	l, clock := newFakeLimiter(7000)

	got, err := io.ReadAll(NewReader(context.Background(), bytes.NewReader(payload), l))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("reader altered the payload")
	}
	if l.Passed() != int64(len(payload)) {
		t.Errorf("Passed() = %d, want %d", l.Passed(), len(payload))
	}
	if clock.slept < time.Second {
		t.Errorf("7000 bytes at 7000 B/s should take >= 1s, slept %v", clock.slept)
	}
}

func TestReaderRealClockElapsed(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the wall clock")
	}
	payload := make([]byte, 2000)
	l := New(10000) // 2000 bytes => >= 200ms

	start := time.Now()
	if _, err := io.Copy(io.Discard, NewReader(context.Background(), bytes.NewReader(payload), l)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 190*time.Millisecond {
		t.Errorf("elapsed %v, want >= 200ms", elapsed)
	}
}
