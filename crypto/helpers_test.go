package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20"
)

// sealForTest encrypts an arbitrary padded block so payload validation can be
// exercised past the MAC check.
func sealForTest(t *testing.T, mk *messageKeys, nonce [32]byte, padded []byte) string {
	t.Helper()
	c, err := chacha20.NewUnauthenticatedCipher(mk.chachaKey[:], mk.chachaNonce[:])
	require.NoError(t, err)
	ct := make([]byte, len(padded))
	c.XORKeyStream(ct, padded)

	out := []byte{PayloadVersion}
	out = append(out, nonce[:]...)
	out = append(out, ct...)
	out = append(out, payloadMAC(mk.hmacKey[:], nonce[:], ct)...)
	return base64.StdEncoding.EncodeToString(out)
}
