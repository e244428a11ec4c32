// Package limits provides centralized size constants and validation functions
// for events and relay wire messages.
//
// # Limit Hierarchy
//
//   - MaxContentBytes (64000): event content, checked before signature work
//   - MaxTags (2000) and MaxTagValueBytes (1024): event tag lists
//   - MaxKind (65535): largest event kind
//   - MaxMessageBytes (512 KiB): one inbound websocket frame
//   - MaxSubscriptionsPerConnection, MaxFiltersPerRequest: per-connection state
//   - MaxQueryResults: hard cap on one historical query
//
// # Validation Functions
//
//	if err := limits.ValidateContent(ev.Content); err != nil {
//	    // errors.Is(err, limits.ErrTooLarge)
//	}
//
// For other bounded values use the generic ValidateSize:
//
//	err := limits.ValidateSize("tag value", len(v), limits.MaxTagValueBytes)
//
// # Error Types
//
//   - ErrEmpty: a required value was empty
//   - ErrTooLarge: a value exceeded its limit; the wrapped message carries
//     the actual and maximum sizes
package limits
