package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const hexDigits = "0123456789abcdef"

// Serialize returns the canonical bytes hashed into an event id.
func Serialize(f Fields) []byte {
	buf := make([]byte, 0, 96+len(f.Content)+16*len(f.Tags))
	buf = append(buf, "[0,"...)
	buf = appendString(buf, f.PubKey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, f.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(f.Kind), 10)
	buf = append(buf, ',')
	buf = appendTags(buf, f.Tags)
	buf = append(buf, ',')
	buf = appendString(buf, f.Content)
	buf = append(buf, ']')
	return buf
}

// ComputeID returns the SHA-256 digest of Serialize(f).
func ComputeID(f Fields) [32]byte {
	return sha256.Sum256(Serialize(f))
}

// ComputeIDHex returns ComputeID as lowercase hex.
func ComputeIDHex(f Fields) string {
	id := ComputeID(f)
	return hex.EncodeToString(id[:])
}

func appendTags(buf []byte, tags Tags) []byte {
	buf = append(buf, '[')
	for i, t := range tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, s := range t {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, s)
		}
		buf = append(buf, ']')
	}
	return append(buf, ']')
}

// appendString writes s as a JSON string using the protocol escaping rules.
// encoding/json is not used here because it escapes <, >, & and U+2028/9.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
	}
	return append(buf, '"')
}
