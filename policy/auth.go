package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/interfaces"
)

// ErrInvalidCache indicates a cache with a non-positive size or TTL.
var ErrInvalidCache = errors.New("invalid authorizer cache")

// OpenAuthorizer allows every pubkey.
type OpenAuthorizer struct{}

var _ interfaces.Authorizer = OpenAuthorizer{}

// IsAllowed always returns true.
func (OpenAuthorizer) IsAllowed(context.Context, string) (bool, error) {
	return true, nil
}

// AllowList allows a fixed, mutable set of pubkeys. Keys are compared in
// lowercase.
type AllowList struct {
	keys mapset.Set[string]
}

var _ interfaces.Authorizer = (*AllowList)(nil)

// NewAllowList returns an allow list holding pubkeys.
func NewAllowList(pubkeys ...string) *AllowList {
	a := &AllowList{keys: mapset.NewSet[string]()}
	a.Add(pubkeys...)
	return a
}

// Add allows pubkeys.
func (a *AllowList) Add(pubkeys ...string) {
	for _, pk := range pubkeys {
		a.keys.Add(strings.ToLower(pk))
	}
}

// Remove revokes pubkeys.
func (a *AllowList) Remove(pubkeys ...string) {
	for _, pk := range pubkeys {
		a.keys.Remove(strings.ToLower(pk))
	}
}

// Len returns the number of allowed keys.
func (a *AllowList) Len() int {
	return a.keys.Cardinality()
}

// IsAllowed reports membership.
func (a *AllowList) IsAllowed(_ context.Context, pubkey string) (bool, error) {
	return a.keys.Contains(strings.ToLower(pubkey)), nil
}

type cachedStatus struct {
	allowed bool
	expires time.Time
}

// CachedAuthorizer memoizes another Authorizer's answers for a TTL in a
// bounded LRU. Errors are not cached.
type CachedAuthorizer struct {
	inner interfaces.Authorizer
	ttl   time.Duration
	clock crypto.TimeProvider
	cache *lru.Cache
}

var _ interfaces.Authorizer = (*CachedAuthorizer)(nil)

// NewCachedAuthorizer wraps inner with a cache of size entries.
func NewCachedAuthorizer(inner interfaces.Authorizer, size int, ttl time.Duration, clock crypto.TimeProvider) (*CachedAuthorizer, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidCache)
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCache, err)
	}
	return &CachedAuthorizer{
		inner: inner,
		ttl:   ttl,
		clock: crypto.OrSystem(clock),
		cache: cache,
	}, nil
}

// IsAllowed answers from the cache when fresh, otherwise asks inner.
func (c *CachedAuthorizer) IsAllowed(ctx context.Context, pubkey string) (bool, error) {
	key := strings.ToLower(pubkey)
	now := c.clock.Now()
	if v, ok := c.cache.Get(key); ok {
		st := v.(cachedStatus)
		if now.Before(st.expires) {
			return st.allowed, nil
		}
		c.cache.Remove(key)
	}

	allowed, err := c.inner.IsAllowed(ctx, pubkey)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "CachedAuthorizer.IsAllowed",
			"pubkey_prefix": prefix(pubkey),
			"error":         err.Error(),
		}).Warn("Authorization lookup failed")
		return false, err
	}
	c.cache.Add(key, cachedStatus{allowed: allowed, expires: now.Add(c.ttl)})
	return allowed, nil
}

// Invalidate drops the cached answer for pubkey.
func (c *CachedAuthorizer) Invalidate(pubkey string) {
	c.cache.Remove(strings.ToLower(pubkey))
}

// Purge drops every cached answer.
func (c *CachedAuthorizer) Purge() {
	c.cache.Purge()
}

func prefix(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
