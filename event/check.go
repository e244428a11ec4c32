package event

import (
	"errors"
	"fmt"

	"github.com/opd-ai/sealrelay/limits"
)

// ErrInvalidStructure is wrapped by every structural failure.
var ErrInvalidStructure = errors.New("invalid event structure")

func structural(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStructure, fmt.Sprintf(format, args...))
}

// Check validates field shapes without any cryptographic work: lowercase hex
// id, pubkey and sig of the fixed lengths, a non-negative created_at and a
// kind in range. It does not look at content or tag semantics.
func Check(e *Event) error {
	if e == nil {
		return structural("missing event")
	}
	if !IsLowerHex(e.ID, IDHexLen) {
		return structural("id must be %d lowercase hex characters", IDHexLen)
	}
	if !IsLowerHex(e.PubKey, PubKeyHexLen) {
		return structural("pubkey must be %d lowercase hex characters", PubKeyHexLen)
	}
	if !IsLowerHex(e.Sig, SigHexLen) {
		return structural("sig must be %d lowercase hex characters", SigHexLen)
	}
	return checkFields(e.CreatedAt, e.Kind, e.Tags)
}

func checkFields(createdAt int64, kind int, tags Tags) error {
	if createdAt < 0 {
		return structural("created_at must be non-negative")
	}
	if kind < 0 || kind > limits.MaxKind {
		return structural("kind must be between 0 and %d", limits.MaxKind)
	}
	for i, t := range tags {
		if len(t) == 0 {
			return structural("tag %d is empty", i)
		}
	}
	return nil
}

// IsLowerHex reports whether s is exactly n lowercase hex characters.
func IsLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
