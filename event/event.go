package event

import "github.com/opd-ai/sealrelay/crypto"

// Well-known kinds.
const (
	KindMetadata       = 0
	KindTextNote       = 1
	KindChannelMessage = 9
	KindSeal           = 13
	KindPrivateMessage = 14
	KindGiftWrap       = 1059
)

// Hex lengths of the fixed-size fields.
const (
	IDHexLen     = 2 * crypto.DigestSize
	PubKeyHexLen = 2 * crypto.KeySize
	SigHexLen    = 2 * crypto.SignatureSize
)

// Event is the signed record type.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Fields returns the signable fields of the event.
func (e *Event) Fields() Fields {
	return Fields{
		PubKey:    e.PubKey,
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
	}
}

// Fields are the inputs of the canonical id: everything except id and sig.
type Fields struct {
	PubKey    string
	CreatedAt int64
	Kind      int
	Tags      Tags
	Content   string
}

// Tag is one tag; element 0 is the tag name.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns element 1, or "" when absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Find returns the first tag with the given name.
func (tags Tags) Find(name string) (Tag, bool) {
	for _, t := range tags {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Values returns the values of every tag with the given name, in order.
func (tags Tags) Values(name string) []string {
	var out []string
	for _, t := range tags {
		if t.Name() == name && len(t) >= 2 {
			out = append(out, t[1])
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot alias a signed event's tags.
func (tags Tags) Clone() Tags {
	if tags == nil {
		return nil
	}
	out := make(Tags, len(tags))
	for i, t := range tags {
		out[i] = append(Tag(nil), t...)
	}
	return out
}
