package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/sirupsen/logrus"
)

// DeriveSharedSecret computes the x coordinate of privateKey * peerPublicKey
// on secp256k1. The peer key is the x-only encoding and is lifted to the
// point with even y.
func DeriveSharedSecret(privateKey, peerPublicKey [KeySize]byte) ([KeySize]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSharedSecret",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
	}).Debug("Computing shared secret using ECDH")

	pub, err := schnorr.ParsePubKey(peerPublicKey[:])
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("%w: peer public key: %v", ErrInvalidKey, err)
	}

	var scalar btcec.ModNScalar
	overflow := scalar.SetBytes(&privateKey)
	if overflow != 0 || scalar.IsZero() {
		scalar.Zero()
		return [KeySize]byte{}, fmt.Errorf("%w: secret key out of range", ErrInvalidKey)
	}
	scalar.Zero()

	// Work on a copy so the caller's key is never aliased by the curve code.
	var privateCopy [KeySize]byte
	copy(privateCopy[:], privateKey[:])
	priv, _ := btcec.PrivKeyFromBytes(privateCopy[:])
	ZeroBytes(privateCopy[:])

	shared := btcec.GenerateSharedSecret(priv, pub)
	priv.Zero()

	var result [KeySize]byte
	copy(result[:], shared)
	ZeroBytes(shared)

	return result, nil
}
