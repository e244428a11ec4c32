package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

// conversationSalt is the HKDF salt that binds keys to payload version 2.
const conversationSalt = "nip44-v2"

// ConversationKey is the symmetric key two parties share for payloads.
type ConversationKey [32]byte

// DeriveConversationKey derives the key shared between the holder of
// privateKey and the holder of the secret key behind peerPublicKey. The
// result is the same in both directions.
func DeriveConversationKey(privateKey, peerPublicKey [KeySize]byte) (ConversationKey, error) {
	shared, err := DeriveSharedSecret(privateKey, peerPublicKey)
	if err != nil {
		return ConversationKey{}, err
	}
	defer ZeroBytes(shared[:])

	prk := hkdf.Extract(sha256.New, shared[:], []byte(conversationSalt))
	defer ZeroBytes(prk)

	var key ConversationKey
	copy(key[:], prk)
	return key, nil
}

// DeriveConversationKeyHex is DeriveConversationKey with a hex peer key.
func DeriveConversationKeyHex(kp *KeyPair, peerPublicHex string) (ConversationKey, error) {
	peer, err := ParsePublicKey(peerPublicHex)
	if err != nil {
		return ConversationKey{}, err
	}
	return DeriveConversationKey(kp.Private, peer)
}

// Wipe zeroes the key.
func (k *ConversationKey) Wipe() {
	ZeroBytes(k[:])
}
