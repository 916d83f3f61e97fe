package slot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"jobe/internal/common/cache"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLeaseTTL     = 2 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
	defaultKeyPrefix    = "jobe:slot:"
)

// LeaseStore is the subset of the cache used for slot leases.
type LeaseStore = cache.LockOps

// RedisPool shares the slot table between independent server processes on
// one host. Each busy slot is a lease key holding the owner's token; a lease
// is kept alive while held so a crashed process frees its slots after LeaseTTL.
type RedisPool struct {
	cfg    Config
	leases LeaseStore
	next   atomic.Uint32
	wake   chan struct{}
}

// NewRedisPool creates a pool whose table lives in leases.
func NewRedisPool(cfg Config, leases LeaseStore) (*RedisPool, error) {
	if leases == nil {
		return nil, fmt.Errorf("lease store is required")
	}
	cfg.ApplyDefaults()
	return &RedisPool{
		cfg:    cfg,
		leases: leases,
		wake:   make(chan struct{}, 1),
	}, nil
}

func (p *RedisPool) Acquire(ctx context.Context, timeout time.Duration) (*Slot, error) {
	deadline := time.Now().Add(timeout)
	for {
		s, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, appErr.Overload().WithDetail("wait_timeout", timeout.String())
		}
		wait := p.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryAcquire makes one pass over the table, starting at a rotating offset so
// that low-numbered users are not always preferred.
func (p *RedisPool) tryAcquire(ctx context.Context) (*Slot, error) {
	n := p.cfg.MaxSlots
	start := int(p.next.Add(1)) % n
	token := uuid.NewString()
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		key := p.key(idx)
		ok, err := p.leases.TryLock(ctx, key, token, p.cfg.LeaseTTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "take slot lease %s failed", key)
		}
		if ok {
			return p.hold(idx, key, token), nil
		}
	}
	return nil, nil
}

func (p *RedisPool) hold(idx int, key, token string) *Slot {
	stop := make(chan struct{})
	go p.keepAlive(key, token, stop)
	return newSlot(p.cfg, idx, func(ctx context.Context) {
		close(stop)
		if ok, err := p.leases.Unlock(ctx, key, token); err != nil {
			logger.Warn(ctx, "release slot lease failed", zap.String("key", key), zap.Error(err))
		} else if !ok {
			logger.Warn(ctx, "slot lease lost before release", zap.String("key", key))
		}
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
}

func (p *RedisPool) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LeaseTTL/3)
			ok, err := p.leases.ExtendLock(ctx, key, token, p.cfg.LeaseTTL)
			cancel()
			if err != nil {
				logger.Warn(context.Background(), "extend slot lease failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if !ok {
				logger.Error(context.Background(), "slot lease expired while held", zap.String("key", key))
				return
			}
		}
	}
}

func (p *RedisPool) Release(ctx context.Context, s *Slot) {
	releaseSlot(ctx, s)
}

func (p *RedisPool) Size() int {
	return p.cfg.MaxSlots
}

// Held counts the live lease keys of the table.
func (p *RedisPool) Held(ctx context.Context) (int, error) {
	keys := make([]string, p.cfg.MaxSlots)
	for i := range keys {
		keys[i] = p.key(i)
	}
	n, err := p.leases.Exists(ctx, keys...)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "count slot leases failed")
	}
	return int(n), nil
}

func (p *RedisPool) key(idx int) string {
	return fmt.Sprintf("%s%02d", p.cfg.KeyPrefix, idx)
}
