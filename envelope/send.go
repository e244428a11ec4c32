package envelope

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/limits"
	"github.com/opd-ai/sealrelay/policy"
)

// Sender builds and publishes gift-wrapped messages for one key pair.
type Sender struct {
	keys      *crypto.KeyPair
	publisher interfaces.Publisher
	validator interfaces.Validator
	limiter   interfaces.RateLimiter
	clock     crypto.TimeProvider
	random    io.Reader
	maxWrap   int
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithValidator replaces the default content validator.
func WithValidator(v interfaces.Validator) SenderOption {
	return func(s *Sender) { s.validator = v }
}

// WithRateLimiter enables rate limiting of the dm action per sender pubkey.
func WithRateLimiter(l interfaces.RateLimiter) SenderOption {
	return func(s *Sender) { s.limiter = l }
}

// WithClock sets the clock used for the real timestamp.
func WithClock(tp crypto.TimeProvider) SenderOption {
	return func(s *Sender) { s.clock = tp }
}

// WithRandom sets the source of the timestamp fuzz. It must be
// cryptographically secure outside of tests.
func WithRandom(r io.Reader) SenderOption {
	return func(s *Sender) { s.random = r }
}

// WithMaxWrapContent sets the largest wrap content the Sender produces. It
// defaults to limits.MaxContentBytes so that wraps pass relay admission.
func WithMaxWrapContent(n int) SenderOption {
	return func(s *Sender) { s.maxWrap = n }
}

// NewSender returns a Sender publishing through publisher.
func NewSender(keys *crypto.KeyPair, publisher interfaces.Publisher, opts ...SenderOption) (*Sender, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: nil key pair", crypto.ErrInvalidKey)
	}
	if publisher == nil {
		return nil, fmt.Errorf("new sender: nil publisher")
	}
	s := &Sender{
		keys:      keys,
		publisher: publisher,
		validator: policy.NewContentValidator(),
		maxWrap:   limits.MaxContentBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = crypto.OrSystem(s.clock)
	return s, nil
}

// Send wraps content for recipientPubkey and publishes the wrap. Policy and
// rate limit denials are returned before any cryptographic work and match
// ErrPolicyDenied. Nothing is published when any step fails.
func (s *Sender) Send(ctx context.Context, content, recipientPubkey string) (*GiftWrap, error) {
	now := s.clock.Now().Unix()
	recipient, err := s.checkPolicy(content, recipientPubkey, now)
	if err != nil {
		return nil, err
	}
	recipientHex := strings.ToLower(recipientPubkey)

	rumor := NewRumor(s.keys.PublicHex(), recipientHex, content, now)
	seal, err := SealRumor(rumor, s.keys, recipient)
	if err != nil {
		return nil, err
	}
	wrapTime, err := FuzzTimestamp(now, s.random)
	if err != nil {
		return nil, err
	}
	wrap, err := WrapSeal(seal, recipient, wrapTime)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, &wrap.Event); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":         "Sender.Send",
			"wrap_id_prefix":   wrap.ID[:16],
			"recipient_prefix": recipientHex[:16],
			"error":            err.Error(),
		}).Warn("Failed to publish gift wrap")
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":         "Sender.Send",
		"wrap_id_prefix":   wrap.ID[:16],
		"recipient_prefix": recipientHex[:16],
	}).Debug("Published gift wrap")
	return wrap, nil
}

// checkPolicy runs every check that needs no cryptography, then lifts the
// recipient key.
func (s *Sender) checkPolicy(content, recipientPubkey string, now int64) ([crypto.KeySize]byte, error) {
	var recipient [crypto.KeySize]byte
	if !s.validator.IsValidPubkey(recipientPubkey) {
		return recipient, &PolicyError{Reason: "Invalid recipient public key"}
	}
	if res := s.validator.ValidateContent(content); !res.Valid {
		return recipient, &PolicyError{Reason: "Invalid message", Errors: res.Errors}
	}
	if s.limiter != nil {
		if res := s.limiter.Check(policy.ActionDM, s.keys.PublicHex()); !res.Allowed {
			return recipient, &RateLimitError{RetryAfter: res.RetryAfter}
		}
	}
	if n, ok := WrapContentLen(s.keys.PublicHex(), strings.ToLower(recipientPubkey), content, now); !ok || n > s.maxWrap {
		return recipient, &PolicyError{
			Reason: "Invalid message",
			Errors: []string{fmt.Sprintf("Message too long to wrap within %d bytes", s.maxWrap)},
		}
	}
	recipient, err := crypto.ParsePublicKey(strings.ToLower(recipientPubkey))
	if err != nil {
		return recipient, &PolicyError{Reason: "Invalid recipient public key", Errors: []string{err.Error()}}
	}
	return recipient, nil
}
