package envelope

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func newSender(t *testing.T, keys *crypto.KeyPair, opts ...SenderOption) (*Sender, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	s, err := NewSender(keys, pub, opts...)
	require.NoError(t, err)
	return s, pub
}
