package slot

import (
	"context"
	"time"

	appErr "jobe/pkg/errors"
)

// MemoryPool is an in-process pool backed by a buffered channel of slot indexes.
// Blocked acquirers are woken in arrival order by the channel runtime.
type MemoryPool struct {
	cfg  Config
	free chan int
}

// NewMemoryPool creates a pool of cfg.MaxSlots slots.
func NewMemoryPool(cfg Config) *MemoryPool {
	cfg.ApplyDefaults()
	free := make(chan int, cfg.MaxSlots)
	for i := 0; i < cfg.MaxSlots; i++ {
		free <- i
	}
	return &MemoryPool{cfg: cfg, free: free}
}

func (p *MemoryPool) Acquire(ctx context.Context, timeout time.Duration) (*Slot, error) {
	select {
	case idx := <-p.free:
		return p.wrap(idx), nil
	default:
	}
	if timeout <= 0 {
		return nil, appErr.Overload()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case idx := <-p.free:
		return p.wrap(idx), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, appErr.Overload().WithDetail("wait_timeout", timeout.String())
	}
}

func (p *MemoryPool) Release(ctx context.Context, s *Slot) {
	releaseSlot(ctx, s)
}

func (p *MemoryPool) Size() int {
	return p.cfg.MaxSlots
}

// Busy returns the number of slots currently handed out.
func (p *MemoryPool) Busy() int {
	return p.cfg.MaxSlots - len(p.free)
}

func (p *MemoryPool) Held(context.Context) (int, error) {
	return p.Busy(), nil
}

func (p *MemoryPool) wrap(idx int) *Slot {
	return newSlot(p.cfg, idx, func(context.Context) {
		p.free <- idx
	})
}
