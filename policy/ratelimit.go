package policy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/interfaces"
)

// Named actions.
const (
	ActionMessage       = "message"
	ActionDM            = "dm"
	ActionChannelCreate = "channel_create"
	ActionAPI           = "api"
	ActionLogin         = "login"
)

// DefaultIdentity is the bucket used when the caller has no identity key.
const DefaultIdentity = "default"

// ErrInvalidLimit indicates a limit with a non-positive capacity or window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Limit is a bucket of Capacity tokens refilled evenly over Window.
type Limit struct {
	Capacity int
	Window   time.Duration
}

// DefaultLimits returns the built-in per-action limits.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ActionMessage:       {Capacity: 10, Window: time.Minute},
		ActionDM:            {Capacity: 20, Window: time.Minute},
		ActionChannelCreate: {Capacity: 2, Window: time.Hour},
		ActionAPI:           {Capacity: 100, Window: time.Minute},
		ActionLogin:         {Capacity: 5, Window: 15 * time.Minute},
	}
}

// RateLimiter is a token bucket per (action, identity). Buckets live in a
// bounded LRU table; an evicted bucket starts full again.
//
// Actions without a configured limit are never limited and report
// Remaining -1.
type RateLimiter struct {
	limits map[string]Limit
	clock  crypto.TimeProvider

	mu      sync.Mutex
	buckets *lru.Cache
}

var _ interfaces.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter builds a limiter holding at most tableSize buckets.
func NewRateLimiter(limits map[string]Limit, tableSize int, clock crypto.TimeProvider) (*RateLimiter, error) {
	for action, l := range limits {
		if l.Capacity <= 0 || l.Window <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidLimit, action)
		}
	}
	buckets, err := lru.New(tableSize)
	if err != nil {
		return nil, fmt.Errorf("create bucket table: %w", err)
	}
	copied := make(map[string]Limit, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &RateLimiter{
		limits:  copied,
		clock:   crypto.OrSystem(clock),
		buckets: buckets,
	}, nil
}

func bucketKey(action, identity string) string {
	if identity == "" {
		identity = DefaultIdentity
	}
	return action + "\x00" + identity
}

// bucket returns the limiter for the pair, creating a full one on first use.
// The caller holds rl.mu.
func (rl *RateLimiter) bucket(action, identity string, l Limit) *rate.Limiter {
	key := bucketKey(action, identity)
	if v, ok := rl.buckets.Get(key); ok {
		return v.(*rate.Limiter)
	}
	every := rate.Limit(float64(l.Capacity) / l.Window.Seconds())
	lim := rate.NewLimiter(every, l.Capacity)
	rl.buckets.Add(key, lim)
	return lim
}

// Check consumes one token when available.
func (rl *RateLimiter) Check(action, identity string) interfaces.RateLimitResult {
	l, ok := rl.limits[action]
	if !ok {
		return interfaces.RateLimitResult{Allowed: true, Remaining: -1}
	}
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim := rl.bucket(action, identity, l)
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		logrus.WithFields(logrus.Fields{
			"function":    "RateLimiter.Check",
			"action":      action,
			"retry_after": delay.String(),
		}).Debug("Rate limit exceeded")
		return interfaces.RateLimitResult{Allowed: false, RetryAfter: delay, Remaining: 0}
	}
	return interfaces.RateLimitResult{Allowed: true, Remaining: tokens(lim, now)}
}

// Remaining reports the whole tokens left without consuming one.
func (rl *RateLimiter) Remaining(action, identity string) int {
	l, ok := rl.limits[action]
	if !ok {
		return -1
	}
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	return tokens(rl.bucket(action, identity, l), now)
}

// Reset refills the bucket for the pair.
func (rl *RateLimiter) Reset(action, identity string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buckets.Remove(bucketKey(action, identity))
}

// ResetAll drops every bucket.
func (rl *RateLimiter) ResetAll() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buckets.Purge()
}

func tokens(lim *rate.Limiter, now time.Time) int {
	t := lim.TokensAt(now)
	if t <= 0 {
		return 0
	}
	return int(math.Floor(t))
}
