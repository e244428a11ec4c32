package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SignatureSize is the length of a BIP-340 signature.
const SignatureSize = 64

// DigestSize is the length of the message digests that are signed.
const DigestSize = 32

// Sign produces a BIP-340 Schnorr signature over a 32-byte digest. The
// digest is signed as-is.
func Sign(kp *KeyPair, digest [DigestSize]byte) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	if kp == nil {
		return out, fmt.Errorf("%w: nil key pair", ErrInvalidKey)
	}

	priv, _ := btcec.PrivKeyFromBytes(kp.Private[:])
	defer priv.Zero()

	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return out, fmt.Errorf("schnorr sign: %w", err)
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// Verify reports whether sig is a valid signature of digest by the x-only
// public key pub. Any malformed input yields false.
func Verify(pub, digest, sig []byte) bool {
	if len(pub) != KeySize || len(digest) != DigestSize || len(sig) != SignatureSize {
		return false
	}
	pk, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest, pk)
}

// VerifyHex is Verify over hex-encoded inputs, as they appear on the wire.
func VerifyHex(pubHex, digestHex, sigHex string) bool {
	if len(pubHex) != 2*KeySize || len(digestHex) != 2*DigestSize || len(sigHex) != 2*SignatureSize {
		return false
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return Verify(pub, digest, sig)
}
