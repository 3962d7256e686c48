package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"venue-orders/internal/lock"
	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

const (
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 10 * time.Millisecond
)

// Locker is a lock.Locker shared by every instance talking to the same Redis
type Locker struct {
	client       *Client
	leaseTTL     time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewLocker creates a distributed locker. Leases expire after leaseTTL so a
// crashed holder cannot block a key forever.
func NewLocker(client *Client, leaseTTL time.Duration) *Locker {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Locker{
		client:       client,
		leaseTTL:     leaseTTL,
		pollInterval: defaultPollInterval,
		logger:       util.GetLogger(),
	}
}

// Acquire polls until key is taken, timeout elapses or ctx is done
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (lock.Release, error) {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		token, err := l.client.AcquireLock(ctx, key, l.leaseTTL)
		if err != nil {
			return nil, err
		}
		if token != "" {
			util.LockWaitSeconds.WithLabelValues("redis").Observe(time.Since(start).Seconds())
			return l.release(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
		case <-deadline.C:
			util.LockTimeoutsTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("lock %s not acquired within %s: %w", key, timeout, models.ErrBusy)
		case <-ticker.C:
		}
	}
}

func (l *Locker) release(key, token string) lock.Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.client.ReleaseLock(ctx, key, token); err != nil {
				l.logger.Error("Failed to release lock",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}
}
