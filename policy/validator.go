package policy

import (
	"fmt"
	"strings"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/limits"
)

// ContentValidator implements interfaces.Validator with the relay's size and
// format rules.
type ContentValidator struct{}

var _ interfaces.Validator = ContentValidator{}

// NewContentValidator returns the default validator.
func NewContentValidator() ContentValidator {
	return ContentValidator{}
}

func result(errs []string) interfaces.ValidationResult {
	return interfaces.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateContent rejects content with NUL bytes or above the size limit.
// Empty content is valid.
func (ContentValidator) ValidateContent(content string) interfaces.ValidationResult {
	return result(contentErrors(content))
}

func contentErrors(content string) []string {
	var errs []string
	if strings.IndexByte(content, 0) >= 0 {
		errs = append(errs, "Content contains null bytes")
	}
	if err := limits.ValidateContent(content); err != nil {
		errs = append(errs, fmt.Sprintf("Content exceeds maximum length of %d bytes", limits.MaxContentBytes))
	}
	return errs
}

// IsValidPubkey reports whether s is 64 hex characters of either case.
func (ContentValidator) IsValidPubkey(s string) bool {
	return isHex(s, event.PubKeyHexLen)
}

// IsValidEventID reports whether s is 64 hex characters.
func (ContentValidator) IsValidEventID(s string) bool {
	return isHex(s, event.IDHexLen)
}

// IsValidSignature reports whether s is 128 hex characters.
func (ContentValidator) IsValidSignature(s string) bool {
	return isHex(s, event.SigHexLen)
}

func isHex(s string, n int) bool {
	return event.IsLowerHex(strings.ToLower(s), n)
}

// ValidateTags checks the tag count, value sizes and the reference formats of
// p and e tags.
func (v ContentValidator) ValidateTags(tags event.Tags) interfaces.ValidationResult {
	return result(v.tagErrors(tags))
}

func (v ContentValidator) tagErrors(tags event.Tags) []string {
	if len(tags) > limits.MaxTags {
		return []string{fmt.Sprintf("Too many tags (max %d)", limits.MaxTags)}
	}
	var errs []string
	for i, tag := range tags {
		if len(tag) == 0 {
			errs = append(errs, fmt.Sprintf("Tag %d is empty", i))
			continue
		}
		for _, value := range tag {
			if strings.IndexByte(value, 0) >= 0 {
				errs = append(errs, fmt.Sprintf("Tag %d value contains null bytes", i))
			}
			if len(value) > limits.MaxTagValueBytes {
				errs = append(errs, fmt.Sprintf("Tag %d value exceeds max length of %d", i, limits.MaxTagValueBytes))
			}
		}
		switch tag.Name() {
		case "p":
			if !v.IsValidPubkey(tag.Value()) {
				errs = append(errs, fmt.Sprintf("Invalid pubkey in 'p' tag at index %d", i))
			}
		case "e":
			if !v.IsValidEventID(tag.Value()) {
				errs = append(errs, fmt.Sprintf("Invalid event ID in 'e' tag at index %d", i))
			}
		}
	}
	return errs
}

// ValidateEvent collects every rule violation of ev. It checks formats only;
// ids and signatures are not verified.
func (v ContentValidator) ValidateEvent(ev *event.Event) interfaces.ValidationResult {
	if ev == nil {
		return result([]string{"Event is missing"})
	}
	var errs []string
	if !v.IsValidEventID(ev.ID) {
		errs = append(errs, "Invalid event ID format")
	}
	if !v.IsValidPubkey(ev.PubKey) {
		errs = append(errs, "Invalid pubkey format")
	}
	if !v.IsValidSignature(ev.Sig) {
		errs = append(errs, "Invalid signature format")
	}
	if ev.CreatedAt < 0 {
		errs = append(errs, "Invalid created_at timestamp")
	}
	if ev.Kind < 0 || ev.Kind > limits.MaxKind {
		errs = append(errs, "Invalid event kind")
	}
	errs = append(errs, contentErrors(ev.Content)...)
	errs = append(errs, v.tagErrors(ev.Tags)...)
	return result(errs)
}
