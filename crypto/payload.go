package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// PayloadVersion is the only payload version this package produces and reads.
const PayloadVersion = 2

const (
	// MinPlaintextSize and MaxPlaintextSize bound the plaintext in bytes.
	MinPlaintextSize = 1
	MaxPlaintextSize = 65535

	nonceSize   = 32
	macSize     = 32
	minPadded   = 32
	paddingUnit = 32

	// base64 bounds of a complete payload
	minPayloadChars = 132
	maxPayloadChars = 87472
	// decoded bounds: version + nonce + (2 + 32) + mac up to 2 + 65536
	minPayloadBytes = 99
	maxPayloadBytes = 65603
)

var (
	// ErrPlaintextSize indicates a plaintext outside [MinPlaintextSize, MaxPlaintextSize].
	ErrPlaintextSize = errors.New("invalid plaintext size")
	// ErrInvalidPayload indicates a payload that cannot be decoded.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnsupportedVersion indicates an unknown payload version byte.
	ErrUnsupportedVersion = errors.New("unsupported payload version")
	// ErrInvalidMAC indicates an authentication tag mismatch.
	ErrInvalidMAC = errors.New("invalid MAC")
	// ErrInvalidPadding indicates a malformed length prefix or padding.
	ErrInvalidPadding = errors.New("invalid padding")
)

// messageKeys are expanded per payload from the conversation key and nonce.
type messageKeys struct {
	chachaKey   [32]byte
	chachaNonce [12]byte
	hmacKey     [32]byte
}

func (mk *messageKeys) wipe() {
	ZeroBytes(mk.chachaKey[:])
	ZeroBytes(mk.chachaNonce[:])
	ZeroBytes(mk.hmacKey[:])
}

func deriveMessageKeys(key ConversationKey, nonce []byte) (*messageKeys, error) {
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidPayload, nonceSize)
	}
	r := hkdf.Expand(sha256.New, key[:], nonce)
	var buf [76]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("expand message keys: %w", err)
	}
	defer ZeroBytes(buf[:])

	mk := &messageKeys{}
	copy(mk.chachaKey[:], buf[0:32])
	copy(mk.chachaNonce[:], buf[32:44])
	copy(mk.hmacKey[:], buf[44:76])
	return mk, nil
}

// CalcPaddedLen returns the padded length for a plaintext of n bytes. Short
// messages pad to 32 bytes; longer ones to a chunk that grows with the next
// power of two so that length leaks only coarse size classes.
func CalcPaddedLen(n int) int {
	if n <= minPadded {
		return minPadded
	}
	nextPower := 1
	for nextPower < n {
		nextPower <<= 1
	}
	chunk := paddingUnit
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

// PayloadLen returns the base64 length of the payload Encrypt produces for
// a plaintext of n bytes. It returns 0 when n is out of range.
func PayloadLen(n int) int {
	if n < MinPlaintextSize || n > MaxPlaintextSize {
		return 0
	}
	return base64.StdEncoding.EncodedLen(1 + nonceSize + 2 + CalcPaddedLen(n) + macSize)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < MinPlaintextSize || n > MaxPlaintextSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPlaintextSize, n)
	}
	out := make([]byte, 2+CalcPaddedLen(n))
	binary.BigEndian.PutUint16(out[:2], uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}
	n := int(binary.BigEndian.Uint16(padded[:2]))
	if n < MinPlaintextSize || len(padded) != 2+CalcPaddedLen(n) {
		return nil, ErrInvalidPadding
	}
	return padded[2 : 2+n], nil
}

func payloadMAC(hmacKey, nonce, ciphertext []byte) []byte {
	m := hmac.New(sha256.New, hmacKey)
	m.Write(nonce)
	m.Write(ciphertext)
	return m.Sum(nil)
}

// Encrypt seals plaintext under key with a fresh random nonce and returns the
// base64 payload.
func Encrypt(plaintext string, key ConversationKey) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return EncryptWithNonce(plaintext, key, nonce)
}

// EncryptWithNonce is Encrypt with a caller-chosen nonce. Reusing a nonce
// under the same key breaks confidentiality; it exists for known-answer tests.
func EncryptWithNonce(plaintext string, key ConversationKey, nonce [nonceSize]byte) (string, error) {
	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}
	defer ZeroBytes(padded)

	mk, err := deriveMessageKeys(key, nonce[:])
	if err != nil {
		return "", err
	}
	defer mk.wipe()

	c, err := chacha20.NewUnauthenticatedCipher(mk.chachaKey[:], mk.chachaNonce[:])
	if err != nil {
		return "", fmt.Errorf("chacha20: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	c.XORKeyStream(ciphertext, padded)

	out := make([]byte, 0, 1+nonceSize+len(ciphertext)+macSize)
	out = append(out, PayloadVersion)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	out = append(out, payloadMAC(mk.hmacKey[:], nonce[:], ciphertext)...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a payload produced by Encrypt. It fails with a wrapped
// sentinel error on a bad version, size, MAC or padding; it never panics.
func Decrypt(payload string, key ConversationKey) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if payload[0] == '#' {
		return "", fmt.Errorf("%w: non-base64 encoding", ErrUnsupportedVersion)
	}
	if len(payload) < minPayloadChars || len(payload) > maxPayloadChars {
		return "", fmt.Errorf("%w: %d characters", ErrInvalidPayload, len(payload))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(data) < minPayloadBytes || len(data) > maxPayloadBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(data))
	}
	if data[0] != PayloadVersion {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}

	nonce := data[1 : 1+nonceSize]
	ciphertext := data[1+nonceSize : len(data)-macSize]
	mac := data[len(data)-macSize:]

	mk, err := deriveMessageKeys(key, nonce)
	if err != nil {
		return "", err
	}
	defer mk.wipe()

	if !hmac.Equal(mac, payloadMAC(mk.hmacKey[:], nonce, ciphertext)) {
		return "", ErrInvalidMAC
	}

	c, err := chacha20.NewUnauthenticatedCipher(mk.chachaKey[:], mk.chachaNonce[:])
	if err != nil {
		return "", fmt.Errorf("chacha20: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	c.XORKeyStream(padded, ciphertext)
	defer ZeroBytes(padded)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
