package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KeySize is the length of secret keys and x-only public keys.
const KeySize = 32

var (
	// ErrInvalidKey indicates a key that is malformed or not on the curve.
	ErrInvalidKey = errors.New("invalid key")
)

// KeyPair holds a secp256k1 secret key and its x-only public key.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer priv.Zero()

	kp := &KeyPair{}
	copy(kp.Private[:], priv.Serialize())
	copy(kp.Public[:], schnorr.SerializePubKey(priv.PubKey()))
	return kp, nil
}

// FromSecretKey derives the key pair for an existing secret key. The key must
// be a non-zero scalar below the curve order.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	var scalar btcec.ModNScalar
	overflow := scalar.SetBytes(&secretKey)
	if overflow != 0 || scalar.IsZero() {
		scalar.Zero()
		return nil, fmt.Errorf("%w: secret key out of range", ErrInvalidKey)
	}

	scalar.Zero()

	priv, pub := btcec.PrivKeyFromBytes(secretKey[:])
	defer priv.Zero()

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], schnorr.SerializePubKey(pub))
	return kp, nil
}

// FromSecretHex parses a 64-character hex secret key.
func FromSecretHex(s string) (*KeyPair, error) {
	var sk [KeySize]byte
	if err := decodeHex32(s, &sk); err != nil {
		return nil, err
	}
	defer ZeroBytes(sk[:])
	return FromSecretKey(sk)
}

// PublicHex returns the lowercase hex public key.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// SecretHex returns the lowercase hex secret key.
func (kp *KeyPair) SecretHex() string {
	return hex.EncodeToString(kp.Private[:])
}

// ParsePublicKey decodes a 64-character hex x-only public key and checks
// that it lies on the curve.
func ParsePublicKey(s string) ([KeySize]byte, error) {
	var pk [KeySize]byte
	if err := decodeHex32(s, &pk); err != nil {
		return pk, err
	}
	if _, err := schnorr.ParsePubKey(pk[:]); err != nil {
		return [KeySize]byte{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pk, nil
}

func decodeHex32(s string, out *[KeySize]byte) error {
	if len(s) != 2*KeySize {
		return fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKey, 2*KeySize, len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
