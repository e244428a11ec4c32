package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxContentBytes is the largest event content accepted.
	MaxContentBytes = 64000

	// MaxTags is the largest number of tags on one event.
	MaxTags = 2000

	// MaxTagValueBytes bounds each element of a tag.
	MaxTagValueBytes = 1024

	// MaxKind is the largest event kind.
	MaxKind = 65535

	// MaxMessageBytes is the default cap on one inbound wire message.
	MaxMessageBytes = 512 * 1024

	// MaxSubscriptionIDBytes bounds subscription identifiers.
	MaxSubscriptionIDBytes = 64

	// MaxSubscriptionsPerConnection is the default number of live
	// subscriptions one connection may hold.
	MaxSubscriptionsPerConnection = 32

	// MaxFiltersPerRequest is the default number of filters in one REQ.
	MaxFiltersPerRequest = 16

	// MaxQueryResults caps a single historical query regardless of limit.
	MaxQueryResults = 5000
)

var (
	// ErrEmpty indicates a required value was empty.
	ErrEmpty = errors.New("empty value")

	// ErrTooLarge indicates a value exceeds its limit.
	ErrTooLarge = errors.New("value too large")
)

// ValidateSize checks that n is within [1, max]. The name appears in the
// error to give the caller context.
func ValidateSize(name string, n, max int) error {
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	if n > max {
		return fmt.Errorf("%w: %s size %d exceeds limit %d", ErrTooLarge, name, n, max)
	}
	return nil
}

// ValidateContent checks event content length. Empty content is allowed.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: content size %d exceeds maximum length %d", ErrTooLarge, len(content), MaxContentBytes)
	}
	return nil
}

// ValidateMessage checks the size of a raw inbound wire message against max.
func ValidateMessage(message []byte, max int) error {
	return ValidateSize("message", len(message), max)
}

// ValidateSubscriptionID checks a subscription identifier.
func ValidateSubscriptionID(id string) error {
	return ValidateSize("subscription id", len(id), MaxSubscriptionIDBytes)
}
