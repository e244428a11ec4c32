package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	pubGenerator = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	pubThree     = "f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9"
)

func TestSerializeKnownVector(t *testing.T) {
	f := Fields{
		PubKey:    pubGenerator,
		CreatedAt: 1700000000,
		Kind:      KindTextNote,
		Tags:      Tags{{"p", pubThree}, {"t", "go"}},
		Content:   "hello \"world\"\n<tag> & café \u2028 \x01",
	}

	want := `[0,"` + pubGenerator + `",1700000000,1,[["p","` + pubThree + `"],["t","go"]],` +
		`"hello \"world\"\n<tag> & café ` + "\u2028" + ` \u0001"]`
	assert.Equal(t, want, string(Serialize(f)))
	assert.Equal(t, "03f2a57326a71e2c71267998f78c57b3deeb0c858c23b5a3fa050f5611a2827e", ComputeIDHex(f))
}

func TestSerializeEmptyFields(t *testing.T) {
	f := Fields{PubKey: pubGenerator}
	assert.Equal(t, `[0,"`+pubGenerator+`",0,0,[],""]`, string(Serialize(f)))
	assert.Equal(t, "438633166bd72a6b099ca89b06018a96fc9a175ce81b44a853b1242fcca7ae0b", ComputeIDHex(f))

	// nil and empty tags serialize identically
	f.Tags = Tags{}
	assert.Equal(t, "438633166bd72a6b099ca89b06018a96fc9a175ce81b44a853b1242fcca7ae0b", ComputeIDHex(f))
}

func TestAppendStringEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", `""`},
		{"plain", `"plain"`},
		{`a"b`, `"a\"b"`},
		{`a\b`, `"a\\b"`},
		{"\n\r\t\b\f", `"\n\r\t\b\f"`},
		{"\x00\x1f", `"\u0000\u001f"`},
		{"\x7f", "\"\x7f\""},
		{"<>&", `"<>&"`},
		{"日本", `"日本"`},
		{"\u2028", "\"\u2028\""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(appendString(nil, tt.in)), "input %q", tt.in)
	}
}
