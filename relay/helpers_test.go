package relay

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/interfaces"
)

// fakeStore keeps events in insertion order.
type fakeStore struct {
	mu       sync.Mutex
	events   []*event.Event
	saveErr  error
	queryErr error
	saves    int
}

func (s *fakeStore) Save(_ context.Context, ev *event.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return false, s.saveErr
	}
	for _, have := range s.events {
		if have.ID == ev.ID {
			return false, nil
		}
	}
	s.events = append(s.events, ev)
	return true, nil
}

func (s *fakeStore) Query(_ context.Context, filters filter.Filters) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		s.mu.Lock()
		evs := append([]*event.Event(nil), s.events...)
		err := s.queryErr
		s.mu.Unlock()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, ev := range evs {
			if filters.Match(ev) && !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var _ interfaces.Store = (*fakeStore)(nil)

func allowAll() interfaces.Authorizer {
	return interfaces.AuthorizerFunc(func(context.Context, string) (bool, error) { return true, nil })
}

func newKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

var testClock = crypto.NewFixedTime(time.Unix(1700000000, 0))

func newEvent(t *testing.T, kp *crypto.KeyPair, kind int, content string, tags ...event.Tag) *event.Event {
	t.Helper()
	ev, err := event.Template{Kind: kind, Tags: tags, Content: content}.Finalize(kp, testClock)
	require.NoError(t, err)
	return ev
}

func rawEvent(t *testing.T, ev *event.Event) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

// drain returns every message queued in out without blocking.
func drain(out *ChanOutbox) [][]byte {
	var msgs [][]byte
	for {
		select {
		case msg := <-out.Messages():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func parseAll(t *testing.T, msgs [][]byte) []*RelayMessage {
	t.Helper()
	parsed := make([]*RelayMessage, 0, len(msgs))
	for _, msg := range msgs {
		m, err := ParseRelayMessage(msg)
		require.NoError(t, err, "message %s", msg)
		parsed = append(parsed, m)
	}
	return parsed
}
