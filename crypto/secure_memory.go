package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// ErrNothingToWipe is returned when a wipe target is nil.
var ErrNothingToWipe = errors.New("nothing to wipe")

var zeroBlock [64]byte

// SecureWipe overwrites secret material with zeros in place.
func SecureWipe(data []byte) error {
	if data == nil {
		return ErrNothingToWipe
	}
	for off := 0; off < len(data); off += len(zeroBlock) {
		chunk := data[off:min(off+len(zeroBlock), len(data))]
		// the compare reads the slice so the stores below are not elided
		subtle.ConstantTimeCompare(chunk, zeroBlock[:len(chunk)])
		copy(chunk, zeroBlock[:])
	}
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes is SecureWipe for callers that hold a non-nil buffer.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair erases the secret half of kp. The public half stays usable
// for logging and tags.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return ErrNothingToWipe
	}
	return SecureWipe(kp.Private[:])
}
