package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
)

// FuzzWindow bounds the distance between a wrap's created_at and the real
// send time.
const FuzzWindow = 2 * 24 * time.Hour

const fuzzSeconds = int64(FuzzWindow / time.Second)

// Rumor is the unsigned innermost layer.
type Rumor struct {
	event.Unsigned
}

// Seal is the sender-signed middle layer.
type Seal struct {
	event.Event
}

// GiftWrap is the outer layer signed by a single-use key. It is the only
// layer that is published.
type GiftWrap struct {
	event.Event
}

// NewRumor builds the rumor for content sent from senderPub to recipientPub.
func NewRumor(senderPub, recipientPub, content string, createdAt int64) *Rumor {
	return &Rumor{Unsigned: *event.NewUnsigned(senderPub, event.Template{
		CreatedAt: createdAt,
		Kind:      event.KindPrivateMessage,
		Tags:      event.Tags{{"p", recipientPub}},
		Content:   content,
	})}
}

// SealRumor encrypts r for recipient and signs the result with sender, which
// must be the rumor's author. The seal has no tags and the rumor's created_at.
func SealRumor(r *Rumor, sender *crypto.KeyPair, recipient [crypto.KeySize]byte) (*Seal, error) {
	if r == nil || sender == nil {
		return nil, fmt.Errorf("seal rumor: missing rumor or key")
	}
	if r.PubKey != sender.PublicHex() {
		return nil, fmt.Errorf("seal rumor: rumor author does not match signing key")
	}

	plain, err := r.Unsigned.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode rumor: %w", err)
	}
	content, err := encryptFor(sender.Private, recipient, plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt rumor: %w", err)
	}

	ev, err := event.Template{
		CreatedAt: r.CreatedAt,
		Kind:      event.KindSeal,
		Tags:      event.Tags{},
		Content:   content,
	}.Finalize(sender, nil)
	if err != nil {
		return nil, err
	}
	return &Seal{Event: *ev}, nil
}

// WrapSeal encrypts s for recipient under a fresh single-use key and signs
// the wrap with it. The key is wiped before returning.
func WrapSeal(s *Seal, recipient [crypto.KeySize]byte, createdAt int64) (*GiftWrap, error) {
	if s == nil {
		return nil, fmt.Errorf("wrap seal: missing seal")
	}
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate wrap key: %w", err)
	}
	defer func() { _ = crypto.WipeKeyPair(ephemeral) }()

	plain, err := s.Event.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode seal: %w", err)
	}
	content, err := encryptFor(ephemeral.Private, recipient, plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt seal: %w", err)
	}

	ev, err := event.Template{
		CreatedAt: createdAt,
		Kind:      event.KindGiftWrap,
		Tags:      event.Tags{{"p", hex.EncodeToString(recipient[:])}},
		Content:   content,
	}.Finalize(ephemeral, nil)
	if err != nil {
		return nil, err
	}
	return &GiftWrap{Event: *ev}, nil
}

const (
	placeholderID  = "0000000000000000000000000000000000000000000000000000000000000000"
	placeholderSig = placeholderID + placeholderID
)

// WrapContentLen returns the content length of the wrap that carries
// content from senderPub to recipientPub with the given real timestamp. It
// returns false when an inner layer is too large to encrypt. Only
// serialization and length arithmetic are involved.
func WrapContentLen(senderPub, recipientPub, content string, createdAt int64) (int, bool) {
	rumor, _ := event.Unsigned{
		ID:        placeholderID,
		PubKey:    senderPub,
		CreatedAt: createdAt,
		Kind:      event.KindPrivateMessage,
		Tags:      event.Tags{{"p", recipientPub}},
		Content:   content,
	}.MarshalJSON()
	rumorPayload := crypto.PayloadLen(len(rumor))
	if rumorPayload == 0 {
		return 0, false
	}

	// base64 needs no escaping, so the seal grows by exactly the payload
	emptySeal, _ := event.Event{
		ID:        placeholderID,
		PubKey:    senderPub,
		CreatedAt: createdAt,
		Kind:      event.KindSeal,
		Tags:      event.Tags{},
		Sig:       placeholderSig,
	}.MarshalJSON()
	wrapPayload := crypto.PayloadLen(len(emptySeal) + rumorPayload)
	if wrapPayload == 0 {
		return 0, false
	}
	return wrapPayload, true
}

func encryptFor(priv, peer [crypto.KeySize]byte, plain []byte) (string, error) {
	key, err := crypto.DeriveConversationKey(priv, peer)
	if err != nil {
		return "", err
	}
	defer key.Wipe()
	return crypto.Encrypt(string(plain), key)
}

// FuzzTimestamp returns now shifted by a uniform offset in
// [-FuzzWindow, +FuzzWindow] drawn from r. A zero offset, or a result that
// is not positive, is redrawn.
func FuzzTimestamp(now int64, r io.Reader) (int64, error) {
	if r == nil {
		r = rand.Reader
	}
	span := big.NewInt(2*fuzzSeconds + 1)
	for {
		n, err := rand.Int(r, span)
		if err != nil {
			return 0, fmt.Errorf("draw timestamp offset: %w", err)
		}
		offset := n.Int64() - fuzzSeconds
		if offset == 0 || now+offset <= 0 {
			continue
		}
		return now + offset, nil
	}
}

// DMFilter returns the subscription filter for wraps addressed to pubkey.
func DMFilter(pubkey string) *filter.Filter {
	return filter.New().WithKinds(event.KindGiftWrap).WithTag("p", pubkey)
}
