package envelope

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
)

// Message is a decrypted direct message.
type Message struct {
	Content      string
	SenderPubkey string
	// CreatedAt is the real send time taken from the rumor.
	CreatedAt int64
	Rumor     *Rumor
}

// Receive unwraps ev with the recipient's keys. It returns false for
// anything that is not a valid wrap for those keys.
func Receive(ev *event.Event, keys *crypto.KeyPair) (*Message, bool) {
	msg, err := Unwrap(ev, keys)
	if err != nil {
		fields := logrus.Fields{"function": "Receive", "reason": err.Error()}
		if ev != nil && len(ev.ID) >= 16 {
			fields["wrap_id_prefix"] = ev.ID[:16]
		}
		logrus.WithFields(fields).Debug("Gift wrap not decryptable")
		return nil, false
	}
	return msg, true
}

// Unwrap is Receive with the failure reason. Every error wraps
// ErrNotDecryptable.
func Unwrap(ev *event.Event, keys *crypto.KeyPair) (*Message, error) {
	if ev == nil || keys == nil {
		return nil, notDecryptable("missing event or key")
	}
	if ev.Kind != event.KindGiftWrap {
		return nil, notDecryptable("kind %d is not a gift wrap", ev.Kind)
	}

	sealJSON, err := decryptFrom(keys, ev.PubKey, ev.Content)
	if err != nil {
		return nil, notDecryptable("wrap layer: %v", err)
	}
	parsed, err := event.Parse([]byte(sealJSON))
	if err != nil {
		return nil, notDecryptable("seal: %v", err)
	}
	seal := &Seal{Event: *parsed}
	if seal.Kind != event.KindSeal {
		return nil, notDecryptable("kind %d is not a seal", seal.Kind)
	}
	if !seal.VerifyID() || !seal.VerifySignature() {
		return nil, notDecryptable("seal signature does not verify")
	}

	rumorJSON, err := decryptFrom(keys, seal.PubKey, seal.Content)
	if err != nil {
		return nil, notDecryptable("seal layer: %v", err)
	}
	unsigned, err := event.ParseUnsigned([]byte(rumorJSON))
	if err != nil {
		return nil, notDecryptable("rumor: %v", err)
	}
	rumor := &Rumor{Unsigned: *unsigned}
	if rumor.Kind != event.KindPrivateMessage {
		return nil, notDecryptable("kind %d is not a private message", rumor.Kind)
	}
	if rumor.PubKey != seal.PubKey {
		return nil, notDecryptable("rumor author does not match seal signer")
	}

	return &Message{
		Content:      rumor.Content,
		SenderPubkey: seal.PubKey,
		CreatedAt:    rumor.CreatedAt,
		Rumor:        rumor,
	}, nil
}

func decryptFrom(keys *crypto.KeyPair, peerHex, payload string) (string, error) {
	key, err := crypto.DeriveConversationKeyHex(keys, peerHex)
	if err != nil {
		return "", err
	}
	defer key.Wipe()
	plain, err := crypto.Decrypt(payload, key)
	if err != nil {
		return "", err
	}
	if plain == "" {
		return "", errors.New("empty plaintext")
	}
	return plain, nil
}
