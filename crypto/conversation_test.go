package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveConversationKeyKnownVector(t *testing.T) {
	sec1, err := FromSecretKey(scalarKey(1))
	require.NoError(t, err)
	sec2, err := FromSecretKey(scalarKey(2))
	require.NoError(t, err)

	key, err := DeriveConversationKey(sec1.Private, sec2.Public)
	require.NoError(t, err)
	assert.Equal(t, "c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d", hex.EncodeToString(key[:]))
}

func TestDeriveConversationKeyIsSymmetric(t *testing.T) {
	for i := 0; i < 8; i++ {
		alice, err := GenerateKeyPair()
		require.NoError(t, err)
		bob, err := GenerateKeyPair()
		require.NoError(t, err)

		k1, err := DeriveConversationKey(alice.Private, bob.Public)
		require.NoError(t, err)
		k2, err := DeriveConversationKey(bob.Private, alice.Public)
		require.NoError(t, err)
		assert.Equal(t, k1, k2)

		carol, err := GenerateKeyPair()
		require.NoError(t, err)
		k3, err := DeriveConversationKey(carol.Private, bob.Public)
		require.NoError(t, err)
		assert.NotEqual(t, k1, k3)
	}
}

func TestDeriveConversationKeyRejectsBadKeys(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = DeriveConversationKey([KeySize]byte{}, kp.Public)
	assert.ErrorIs(t, err, ErrInvalidKey)

	// x = 5 is off the curve
	_, err = DeriveConversationKey(kp.Private, scalarKey(5))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = DeriveConversationKeyHex(kp, "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestConversationKeyWipe(t *testing.T) {
	key := ConversationKey{1, 2, 3}
	key.Wipe()
	assert.Equal(t, ConversationKey{}, key)
}
