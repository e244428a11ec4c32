package envelope

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPolicyDenied is matched by every PolicyError and RateLimitError.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrNotDecryptable indicates a wrap that is not for this key or is
	// malformed at some layer.
	ErrNotDecryptable = errors.New("not decryptable")

	// ErrPublish indicates the finished wrap could not be published.
	ErrPublish = errors.New("publish gift wrap")
)

// PolicyError reports content or a recipient rejected before any
// cryptographic work.
type PolicyError struct {
	Reason string
	Errors []string
}

func (e *PolicyError) Error() string {
	if len(e.Errors) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Errors, ", "))
}

// Is matches ErrPolicyDenied.
func (e *PolicyError) Is(target error) bool {
	return target == ErrPolicyDenied
}

// RateLimitError reports a send refused by the rate limiter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	secs := int64((e.RetryAfter + time.Second/2) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("DM rate limit exceeded. Try again in %d seconds.", secs)
}

// Is matches ErrPolicyDenied.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrPolicyDenied
}

func notDecryptable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotDecryptable, fmt.Sprintf(format, args...))
}
