package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
)

const (
	channelTag       = "h"
	encryptedTag     = "encrypted"
	encryptionScheme = "nip44"
)

var (
	// ErrInvalidChannelMessage indicates input that cannot form or be read
	// as an encrypted channel message.
	ErrInvalidChannelMessage = errors.New("invalid channel message")
)

// ChannelMessage is a decrypted channel message.
type ChannelMessage struct {
	Content      string
	SenderPubkey string
	CreatedAt    int64
	ChannelID    string
}

// EncryptChannelMessage builds a kind 9 event for channelID carrying content
// encrypted separately for every member. Members appear as p tags; the
// content maps each member pubkey to its payload.
func EncryptChannelMessage(content, channelID string, sender *crypto.KeyPair, members []string, tp crypto.TimeProvider) (*event.Event, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrInvalidChannelMessage)
	}
	if channelID == "" {
		return nil, fmt.Errorf("%w: channel id is required", ErrInvalidChannelMessage)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender key is required", ErrInvalidChannelMessage)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: member public keys must not be empty", ErrInvalidChannelMessage)
	}

	payloads := make(map[string]string, len(members))
	tags := event.Tags{{channelTag, channelID}, {encryptedTag, encryptionScheme}}
	var failed []string
	for _, m := range members {
		member := strings.ToLower(m)
		if _, dup := payloads[member]; dup {
			continue
		}
		peer, err := crypto.ParsePublicKey(member)
		if err != nil {
			return nil, fmt.Errorf("%w: member public key %q: %v", ErrInvalidChannelMessage, m, err)
		}
		payload, err := encryptFor(sender.Private, peer, []byte(content))
		if err != nil {
			failed = append(failed, member)
			continue
		}
		payloads[member] = payload
		tags = append(tags, event.Tag{"p", member})
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%w: failed to encrypt for %d member(s): %s",
			ErrInvalidChannelMessage, len(failed), strings.Join(failed, ", "))
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("encode payloads: %w", err)
	}
	return event.Template{
		Kind:    event.KindChannelMessage,
		Tags:    tags,
		Content: string(body),
	}.Finalize(sender, tp)
}

// DecryptChannelMessage returns the content addressed to keys. It returns
// nil with a nil error when keys is not a member or the payload does not
// decrypt, and an error when ev is not an encrypted channel message.
func DecryptChannelMessage(ev *event.Event, keys *crypto.KeyPair) (*ChannelMessage, error) {
	if ev == nil || keys == nil {
		return nil, fmt.Errorf("%w: missing event or key", ErrInvalidChannelMessage)
	}
	if ev.Kind != event.KindChannelMessage {
		return nil, fmt.Errorf("%w: expected kind %d, got %d", ErrInvalidChannelMessage, event.KindChannelMessage, ev.Kind)
	}
	if !IsEncryptedChannelMessage(ev) {
		return nil, fmt.Errorf("%w: event is not marked as nip44 encrypted", ErrInvalidChannelMessage)
	}
	tag, ok := ev.Tags.Find(channelTag)
	if !ok || tag.Value() == "" {
		return nil, fmt.Errorf("%w: missing channel id", ErrInvalidChannelMessage)
	}

	var payloads map[string]string
	if err := json.Unmarshal([]byte(ev.Content), &payloads); err != nil {
		return nil, fmt.Errorf("%w: content is not a payload map", ErrInvalidChannelMessage)
	}
	mine, ok := payloads[keys.PublicHex()]
	if !ok {
		return nil, nil
	}
	plain, err := decryptFrom(keys, ev.PubKey, mine)
	if err != nil {
		return nil, nil
	}
	return &ChannelMessage{
		Content:      plain,
		SenderPubkey: ev.PubKey,
		CreatedAt:    ev.CreatedAt,
		ChannelID:    tag.Value(),
	}, nil
}

// IsEncryptedChannelMessage reports whether ev is a kind 9 event marked as
// nip44 encrypted.
func IsEncryptedChannelMessage(ev *event.Event) bool {
	if ev == nil || ev.Kind != event.KindChannelMessage {
		return false
	}
	for _, t := range ev.Tags {
		if t.Name() == encryptedTag && t.Value() == encryptionScheme {
			return true
		}
	}
	return false
}

// Recipients returns the member pubkeys listed on an encrypted channel
// message.
func Recipients(ev *event.Event) []string {
	if !IsEncryptedChannelMessage(ev) {
		return nil
	}
	var out []string
	for _, v := range ev.Tags.Values("p") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsRecipient reports whether pubkey is listed on ev.
func IsRecipient(ev *event.Event, pubkey string) bool {
	for _, r := range Recipients(ev) {
		if r == pubkey {
			return true
		}
	}
	return false
}
