package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache[[]string], *clock) {
	t.Helper()
	ck := &clock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	c := New[[]string]()
	c.SetClock(ck.Now)
	return c, ck
}

func TestGetCachesWithinTTL(t *testing.T) {
	c, ck := newTestCache(t)
	ctx := context.Background()
	var calls int32
	fetch := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"44", "31"}, nil
	}

	v, stale, err := c.Get(ctx, "6200206760", 90*time.Second, fetch)
	if err != nil || stale {
		t.Fatalf("first Get = (%v, %v, %v)", v, stale, err)
	}

	ck.Advance(89 * time.Second)
	v, stale, err = c.Get(ctx, "6200206760", 90*time.Second, fetch)
	if err != nil || stale || len(v) != 2 {
		t.Fatalf("second Get = (%v, %v, %v)", v, stale, err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fetch called %d times within ttl, want 1", n)
	}

	ck.Advance(2 * time.Second) // 91s after the first fetch
	if _, _, err := c.Get(ctx, "6200206760", 90*time.Second, fetch); err != nil {
		t.Fatalf("expired Get: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("fetch called %d times after expiry, want 2", n)
	}
}

func TestConcurrentGetSingleFlight(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	fetch := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		return []string{"x29"}, nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([][]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Get(ctx, "stop", time.Minute, fetch)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch invoked %d times for %d concurrent callers, want 1", got, n)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if len(results[i]) != 1 || results[i][0] != "x29" {
			t.Fatalf("caller %d result = %v", i, results[i])
		}
	}
}

func TestStaleEntryServedOnFetchFailure(t *testing.T) {
	c, ck := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("scraper timeout")

	ok := func(context.Context) ([]string, error) { return []string{"44"}, nil }
	fail := func(context.Context) ([]string, error) { return nil, boom }

	if _, _, err := c.Get(ctx, "stop", time.Minute, ok); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	ck.Advance(2 * time.Minute)
	v, stale, err := c.Get(ctx, "stop", time.Minute, fail)
	if !stale {
		t.Fatal("stale = false, want true")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped fetch error", err)
	}
	if len(v) != 1 || v[0] != "44" {
		t.Fatalf("stale value = %v, want previous entry", v)
	}
}

func TestFetchFailureWithoutPreviousEntry(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("no such stop")
	v, stale, err := c.Get(context.Background(), "nope", time.Minute, func(context.Context) ([]string, error) {
		return nil, boom
	})
	if stale || v != nil {
		t.Fatalf("Get = (%v, %v), want zero value and stale=false", v, stale)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fetch error", err)
	}
}

func TestClearDropsEntriesButNotInFlightWork(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = c.Get(ctx, "slow", time.Minute, func(context.Context) ([]string, error) {
			close(started)
			<-release
			return []string{"late"}, nil
		})
	}()
	<-started

	// Seed and clear a second key while the fetch is in flight.
	if _, _, err := c.Get(ctx, "other", time.Minute, func(context.Context) ([]string, error) {
		return []string{"44"}, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", c.Len())
	}

	close(release)
	// The in-flight fetch completes and repopulates its key.
	deadline := time.After(time.Second)
	for c.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("in-flight fetch never populated a fresh entry after Clear")
		case <-time.After(5 * time.Millisecond):
		}
	}
	v, stale, err := c.Get(ctx, "slow", time.Minute, func(context.Context) ([]string, error) {
		t.Fatal("fetch re-invoked for fresh entry")
		return nil, nil
	})
	if err != nil || stale || len(v) != 1 || v[0] != "late" {
		t.Fatalf("post-clear Get = (%v, %v, %v)", v, stale, err)
	}
}
