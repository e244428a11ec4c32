package interfaces

import (
	"context"
	"iter"
	"time"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
)

// Store persists events and serves historical queries.
type Store interface {
	// Save stores ev. It returns false with a nil error when an event with
	// the same id is already stored.
	Save(ctx context.Context, ev *event.Event) (bool, error)

	// Query yields stored events matching any of the filters, honoring each
	// filter's limit. The sequence is finite and may be ranged over once.
	Query(ctx context.Context, filters filter.Filters) iter.Seq2[*event.Event, error]
}

// Authorizer decides whether a pubkey may publish to the relay.
type Authorizer interface {
	IsAllowed(ctx context.Context, pubkey string) (bool, error)
}

// ValidationResult is the outcome of a content check.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validator checks user-supplied input before it is signed or encrypted.
type Validator interface {
	ValidateContent(content string) ValidationResult
	IsValidPubkey(pubkey string) bool
}

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// RateLimiter counts actions per identity.
type RateLimiter interface {
	// Check consumes one unit of action for identity when allowed.
	Check(action, identity string) RateLimitResult
}

// Publisher delivers a finished event to a relay.
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, pubkey string) (bool, error)

// IsAllowed calls f.
func (f AuthorizerFunc) IsAllowed(ctx context.Context, pubkey string) (bool, error) {
	return f(ctx, pubkey)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev *event.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev *event.Event) error {
	return f(ctx, ev)
}
