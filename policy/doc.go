// Package policy provides the default implementations of the relay's policy
// collaborators.
//
// [ContentValidator] enforces size and format rules on content, tags and
// whole events. [RateLimiter] is a token bucket per (action, identity) pair
// with the limits in [DefaultLimits]. [AllowList], [OpenAuthorizer] and
// [CachedAuthorizer] decide who may publish; the cache is an explicit object
// with a bounded size and TTL rather than process-wide state.
//
//	limiter, err := policy.NewRateLimiter(policy.DefaultLimits(), 10000, nil)
//	auth, err := policy.NewCachedAuthorizer(policy.NewAllowList(admin), 1024, 5*time.Minute, nil)
package policy
