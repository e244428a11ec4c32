// Package crypto implements the cryptographic primitives shared by the relay
// admission pipeline and the gift-wrap envelope protocol.
//
// Keys live on secp256k1. Public keys are the 32-byte x-only encoding used by
// BIP-340, so the same key signs events and takes part in Diffie-Hellman.
//
// # Core Types
//
//   - [KeyPair]: secp256k1 secret key with its x-only public key
//   - [ConversationKey]: symmetric key shared by two key holders
//   - [TimeProvider]: clock abstraction for deterministic tests
//
// # Signatures
//
// Events are signed over their 32-byte canonical id directly, with no
// additional hashing:
//
//	keys, _ := crypto.GenerateKeyPair()
//	sig, _ := crypto.Sign(keys, id)
//	ok := crypto.Verify(keys.Public[:], id[:], sig[:])
//
// [Verify] and [VerifyHex] never panic and never return an error: malformed
// lengths, bad hex and off-curve keys all count as a failed verification.
//
// # Conversation Keys and Payloads
//
// A conversation key is HKDF-extract(salt "nip44-v2") of the ECDH x
// coordinate, so both parties arrive at the same key:
//
//	k1, _ := crypto.DeriveConversationKey(alice.Private, bob.Public)
//	k2, _ := crypto.DeriveConversationKey(bob.Private, alice.Public)
//	// k1 == k2
//
// Payloads use the version 2 format: base64(0x02 || nonce || ciphertext ||
// mac), where the plaintext is length-prefixed and padded before ChaCha20 and
// the MAC is HMAC-SHA256 over nonce and ciphertext:
//
//	payload, _ := crypto.Encrypt("hello", k1)
//	plain, err := crypto.Decrypt(payload, k2)
//
// Every call to [Encrypt] draws a fresh 32-byte nonce from crypto/rand.
//
// # Memory Hygiene
//
// Secret material copied during derivation is wiped with [ZeroBytes] before
// returning. Call [WipeKeyPair] once a key pair such as an ephemeral wrap key
// is no longer needed.
package crypto
