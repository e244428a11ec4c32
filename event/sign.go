package event

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/sealrelay/crypto"
)

// ErrSign indicates an event could not be signed.
var ErrSign = errors.New("sign event")

// Template holds the author-chosen fields of an event that is not yet
// signed. The pubkey, id and sig are filled in by Finalize.
type Template struct {
	CreatedAt int64
	Kind      int
	Tags      Tags
	Content   string
}

// Finalize signs the template with kp. A zero CreatedAt is replaced with the
// current time from tp.
func (t Template) Finalize(kp *crypto.KeyPair, tp crypto.TimeProvider) (*Event, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrSign)
	}
	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = crypto.OrSystem(tp).Now().Unix()
	}
	tags := t.Tags.Clone()
	if tags == nil {
		tags = Tags{}
	}
	if err := checkFields(createdAt, t.Kind, tags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSign, err)
	}

	f := Fields{
		PubKey:    kp.PublicHex(),
		CreatedAt: createdAt,
		Kind:      t.Kind,
		Tags:      tags,
		Content:   t.Content,
	}
	id := ComputeID(f)
	sig, err := crypto.Sign(kp, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSign, err)
	}
	return &Event{
		ID:        hex.EncodeToString(id[:]),
		PubKey:    f.PubKey,
		CreatedAt: f.CreatedAt,
		Kind:      f.Kind,
		Tags:      f.Tags,
		Content:   f.Content,
		Sig:       hex.EncodeToString(sig[:]),
	}, nil
}

// VerifyID reports whether the claimed id equals the canonical digest of the
// signable fields.
func (e *Event) VerifyID() bool {
	return e.ID == ComputeIDHex(e.Fields())
}

// VerifySignature reports whether sig is a valid signature of id by pubkey.
// It does not recompute the id; call VerifyID first.
func (e *Event) VerifySignature() bool {
	return crypto.VerifyHex(e.PubKey, e.ID, e.Sig)
}

// Time returns created_at as a time.Time.
func (e *Event) Time() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// Unsigned is an event with an id but no signature. It is never published on
// its own.
type Unsigned struct {
	ID        string
	PubKey    string
	CreatedAt int64
	Kind      int
	Tags      Tags
	Content   string
}

// NewUnsigned builds an unsigned event authored by pubkey and computes its id.
func NewUnsigned(pubkey string, t Template) *Unsigned {
	tags := t.Tags.Clone()
	if tags == nil {
		tags = Tags{}
	}
	u := &Unsigned{
		PubKey:    pubkey,
		CreatedAt: t.CreatedAt,
		Kind:      t.Kind,
		Tags:      tags,
		Content:   t.Content,
	}
	u.ID = ComputeIDHex(u.Fields())
	return u
}

// Fields returns the signable fields.
func (u *Unsigned) Fields() Fields {
	return Fields{
		PubKey:    u.PubKey,
		CreatedAt: u.CreatedAt,
		Kind:      u.Kind,
		Tags:      u.Tags,
		Content:   u.Content,
	}
}

// MarshalJSON encodes the unsigned event without a sig field.
func (u Unsigned) MarshalJSON() ([]byte, error) {
	return appendObject(nil, u.ID, u.Fields(), "", false), nil
}

// ParseUnsigned decodes an unsigned event. The id is optional; when present
// it must match the canonical digest. A sig field is ignored.
func ParseUnsigned(data []byte) (*Unsigned, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	u := &Unsigned{}
	if err := decodeFields(obj, &u.PubKey, &u.CreatedAt, &u.Kind, &u.Tags, &u.Content); err != nil {
		return nil, err
	}
	if !IsLowerHex(u.PubKey, PubKeyHexLen) {
		return nil, structural("pubkey must be %d lowercase hex characters", PubKeyHexLen)
	}
	claimed, err := stringField(obj, "id", false)
	if err != nil {
		return nil, err
	}
	u.ID = ComputeIDHex(u.Fields())
	if claimed != "" && claimed != u.ID {
		return nil, structural("id does not match content")
	}
	return u, nil
}
