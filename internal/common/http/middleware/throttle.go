package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	pkgerrors "jobe/pkg/errors"
	"jobe/pkg/utils/contextkey"
	"jobe/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	APIKeyHeader = "X-API-KEY"

	// maxIdleLimiters bounds the limiter table before full buckets are pruned.
	maxIdleLimiters = 10000
)

// ThrottleConfig maps each accepted API key to its allowed runs per hour.
// A rate of 0 means unlimited.
type ThrottleConfig struct {
	RequireAPIKeys bool           `yaml:"requireAPIKeys"`
	APIKeys        map[string]int `yaml:"apiKeys"`
}

// Throttle checks API keys and limits each (key, client IP) pair to the
// key's hourly rate.
type Throttle struct {
	cfg ThrottleConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Middleware is a no-op unless API keys are required.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.cfg.RequireAPIKeys {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			response.AbortWithErrorCode(c, pkgerrors.APIKeyMissing, "Missing API key")
			return
		}
		perHour, ok := t.cfg.APIKeys[key]
		if !ok {
			response.AbortWithErrorCode(c, pkgerrors.APIKeyUnknown, "Unknown API key")
			return
		}
		if perHour > 0 && !t.allow(key, c.ClientIP(), perHour) {
			response.AbortWithErrorCode(c, pkgerrors.RunRateExceeded, "Max RUN rate for this server exceeded")
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.APIKey, key))
		c.Next()
	}
}

func (t *Throttle) allow(key, ip string, perHour int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := key + "|" + ip
	l, ok := t.limiters[id]
	if !ok {
		if len(t.limiters) >= maxIdleLimiters {
			t.pruneLocked()
		}
		l = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
		t.limiters[id] = l
	}
	return l.Allow()
}

// pruneLocked drops limiters whose bucket has refilled, since a fresh
// limiter would behave the same.
func (t *Throttle) pruneLocked() {
	for id, l := range t.limiters {
		if l.Tokens() >= float64(l.Burst()) {
			delete(t.limiters, id)
		}
	}
}
