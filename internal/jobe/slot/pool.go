// Package slot bounds the number of concurrently running jobs to a fixed set
// of execution identities (the jobeNN users).
package slot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	defaultMaxSlots   = 8
	defaultUserPrefix = "jobe"
	defaultNumCores   = 8
)

// Config controls the slot pool.
type Config struct {
	MaxSlots     int           `yaml:"maxSlots"`
	UserPrefix   string        `yaml:"userPrefix"`
	CPUPinning   bool          `yaml:"cpuPinning"`
	NumCores     int           `yaml:"numCores"`
	Backend      string        `yaml:"backend"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
	PollInterval time.Duration `yaml:"pollInterval"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxSlots <= 0 {
		c.MaxSlots = defaultMaxSlots
	}
	if c.UserPrefix == "" {
		c.UserPrefix = defaultUserPrefix
	}
	if c.NumCores <= 0 {
		c.NumCores = defaultNumCores
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
}

// Slot is an exclusive permit for one execution identity.
// It must be handed back with Pool.Release exactly once; extra releases are ignored.
type Slot struct {
	Index int
	User  string
	// CPU is the pinned core, or -1 when pinning is disabled.
	CPU int

	once    sync.Once
	release func(ctx context.Context)
}

// Pinned reports whether the slot carries a CPU core.
func (s *Slot) Pinned() bool {
	return s != nil && s.CPU >= 0
}

// Pool hands out slots.
type Pool interface {
	// Acquire returns a free slot, blocking up to timeout. When the timeout
	// elapses it returns an error carrying the ServerOverload code.
	Acquire(ctx context.Context, timeout time.Duration) (*Slot, error)
	// Release returns the slot to the pool.
	Release(ctx context.Context, s *Slot)
	// Size is the total number of slots.
	Size() int
	// Held is the number of slots currently in use. A shared table counts
	// slots held by every process.
	Held(ctx context.Context) (int, error)
}

// UserName returns the execution identity for slot index.
func UserName(prefix string, index int) string {
	return fmt.Sprintf("%s%02d", prefix, index)
}

func newSlot(cfg Config, index int, release func(ctx context.Context)) *Slot {
	cpu := -1
	if cfg.CPUPinning && cfg.NumCores > 0 {
		cpu = index % cfg.NumCores
	}
	return &Slot{
		Index:   index,
		User:    UserName(cfg.UserPrefix, index),
		CPU:     cpu,
		release: release,
	}
}

func releaseSlot(ctx context.Context, s *Slot) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release(ctx)
		}
	})
}

// New builds the pool selected by cfg.Backend. leases is only used by the
// redis backend.
func New(cfg Config, leases LeaseStore) (Pool, error) {
	cfg.ApplyDefaults()
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryPool(cfg), nil
	case BackendRedis:
		return NewRedisPool(cfg, leases)
	default:
		return nil, fmt.Errorf("unknown slot backend %q", cfg.Backend)
	}
}
