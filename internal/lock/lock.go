package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

// Release unlocks a key acquired from a Locker. It must be called exactly once.
type Release func()

// Locker hands out mutual exclusion per key with a bounded wait.
// Acquire fails with models.ErrBusy when the key is not obtained within timeout.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Different keys never block each other.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal creates an in-process keyed locker
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free, timeout elapses or ctx is done
func (l *Local) Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error) {
	start := time.Now()
	s := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		util.LockWaitSeconds.WithLabelValues("local").Observe(time.Since(start).Seconds())
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		util.LockTimeoutsTotal.WithLabelValues("local").Inc()
		return nil, fmt.Errorf("lock %s not acquired within %s: %w", key, timeout, models.ErrBusy)
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// AcquireAll locks every key in sorted order so concurrent callers never deadlock.
// On failure every key already held is released.
func AcquireAll(ctx context.Context, l Locker, keys []string, timeout time.Duration) (Release, error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	releases := make([]Release, 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	deadline := time.Now().Add(timeout)
	for _, k := range sorted {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			releaseAll()
			return nil, fmt.Errorf("lock %s not acquired within %s: %w", k, timeout, models.ErrBusy)
		}
		release, err := l.Acquire(ctx, k, remaining)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	return releaseAll, nil
}
