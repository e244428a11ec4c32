package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarKey(b byte) [KeySize]byte {
	var k [KeySize]byte
	k[KeySize-1] = b
	return k
}

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, kp1.Private, kp2.Private)
	assert.NotEqual(t, kp1.Public, kp2.Public)

	derived, err := FromSecretKey(kp1.Private)
	require.NoError(t, err)
	assert.Equal(t, kp1.Public, derived.Public, "public key must be derivable from the secret key")
}

func TestFromSecretKeyKnownPoints(t *testing.T) {
	tests := []struct {
		name   string
		secret [KeySize]byte
		public string
	}{
		{"generator", scalarKey(1), "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"},
		{"three", scalarKey(3), "f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := FromSecretKey(tt.secret)
			require.NoError(t, err)
			assert.Equal(t, tt.public, kp.PublicHex())
		})
	}
}

func TestFromSecretKeyRejectsOutOfRange(t *testing.T) {
	_, err := FromSecretKey([KeySize]byte{})
	assert.ErrorIs(t, err, ErrInvalidKey)

	var max [KeySize]byte
	for i := range max {
		max[i] = 0xff
	}
	_, err = FromSecretKey(max)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFromSecretHex(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := FromSecretHex(kp.SecretHex())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed.Public)

	_, err = FromSecretHex("abc")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = FromSecretHex(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pk, err := ParsePublicKey(kp.PublicHex())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pk)

	// x = 5 has no point on secp256k1
	_, err = ParsePublicKey(strings.Repeat("0", 63) + "5")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParsePublicKey(strings.Repeat("a", 63))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, WipeKeyPair(kp))
	assert.Equal(t, [KeySize]byte{}, kp.Private)
	assert.ErrorIs(t, WipeKeyPair(nil), ErrNothingToWipe)
	assert.ErrorIs(t, SecureWipe(nil), ErrNothingToWipe)
}

func TestSecureWipeLongBuffer(t *testing.T) {
	buf := []byte(strings.Repeat("k", 150))
	require.NoError(t, SecureWipe(buf))
	assert.Equal(t, make([]byte, 150), buf)
	assert.NoError(t, SecureWipe([]byte{}))
}
