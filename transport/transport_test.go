package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/envelope"
	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/policy"
	"github.com/opd-ai/sealrelay/relay"
	"github.com/opd-ai/sealrelay/store"
)

func newTestRelay(t *testing.T, auth interfaces.Authorizer) (*relay.Relay, string) {
	t.Helper()
	r, err := relay.NewRelay(store.NewMemory(0), auth, relay.DefaultSessionLimits())
	require.NoError(t, err)
	srv := NewServer(r, ServerConfig{AllowedOrigins: []string{"*"}})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return r, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func note(t *testing.T, kp *crypto.KeyPair, content string) *event.Event {
	t.Helper()
	ev, err := event.Template{Kind: event.KindTextNote, Content: content}.Finalize(kp, nil)
	require.NoError(t, err)
	return ev
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPublishAndQuery(t *testing.T) {
	_, url := newTestRelay(t, policy.OpenAuthorizer{})
	c := dial(t, url)
	ctx := testContext(t)
	kp := newKeys(t)

	first, second := note(t, kp, "first"), note(t, kp, "second")
	require.NoError(t, c.Publish(ctx, first))
	require.NoError(t, c.Publish(ctx, second))
	require.NoError(t, c.Publish(ctx, first), "duplicates are acknowledged")

	got, err := c.Query(ctx, "history", *filter.New().WithAuthors(kp.PublicHex()))
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, ev := range got {
		assert.True(t, ev.VerifySignature())
		ids = append(ids, ev.ID)
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestPublishRejected(t *testing.T) {
	allowed := newKeys(t)
	_, url := newTestRelay(t, policy.NewAllowList(allowed.PublicHex()))
	c := dial(t, url)
	ctx := testContext(t)

	err := c.Publish(ctx, note(t, newKeys(t), "stranger"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, "blocked: pubkey not whitelisted")

	tampered := note(t, allowed, "original")
	tampered.Content = "forged"
	err = c.Publish(ctx, tampered)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, "invalid: event id verification failed")

	assert.NoError(t, c.Publish(ctx, note(t, allowed, "member")))
}

func TestLiveSubscription(t *testing.T) {
	_, url := newTestRelay(t, policy.OpenAuthorizer{})
	reader, writer := dial(t, url), dial(t, url)
	ctx := testContext(t)
	kp := newKeys(t)

	sub, err := reader.Subscribe(ctx, "live", *filter.New().WithKinds(event.KindTextNote))
	require.NoError(t, err)
	select {
	case <-sub.EOSE():
	case <-ctx.Done():
		t.Fatal("no EOSE")
	}

	ev := note(t, kp, "live event")
	require.NoError(t, writer.Publish(ctx, ev))
	select {
	case got := <-sub.Events():
		assert.Equal(t, ev, got)
	case <-ctx.Done():
		t.Fatal("live event not delivered")
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestNoticeForMalformedFrame(t *testing.T) {
	_, url := newTestRelay(t, policy.OpenAuthorizer{})
	c := dial(t, url)
	ctx := testContext(t)

	require.NoError(t, c.write([]byte(`["HELLO"]`)))
	select {
	case msg := <-c.Notices():
		assert.Equal(t, "Unknown message type: HELLO", msg)
	case <-ctx.Done():
		t.Fatal("no notice")
	}
}

func TestDirectMessageOverRelay(t *testing.T) {
	_, url := newTestRelay(t, policy.OpenAuthorizer{})
	ctx := testContext(t)
	alice, bob := newKeys(t), newKeys(t)

	aliceConn := dial(t, url)
	sender, err := envelope.NewSender(alice, aliceConn)
	require.NoError(t, err)
	wrap, err := sender.Send(ctx, "meet at noon", bob.PublicHex())
	require.NoError(t, err)

	bobConn := dial(t, url)
	inbox, err := bobConn.Query(ctx, "inbox", *envelope.DMFilter(bob.PublicHex()))
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, wrap.ID, inbox[0].ID)
	assert.NotEqual(t, alice.PublicHex(), inbox[0].PubKey)

	msg, ok := envelope.Receive(inbox[0], bob)
	require.True(t, ok)
	assert.Equal(t, "meet at noon", msg.Content)
	assert.Equal(t, alice.PublicHex(), msg.SenderPubkey)
}

func TestServerClosesClients(t *testing.T) {
	r, err := relay.NewRelay(store.NewMemory(0), policy.OpenAuthorizer{}, relay.DefaultSessionLimits())
	require.NoError(t, err)
	srv := NewServer(r, DefaultServerConfig())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c, err := Dial(testContext(t), "ws"+strings.TrimPrefix(ts.URL, "http"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		conns, _ := r.Registry.Stats()
		return conns == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client not closed")
	}
	conns, _ := r.Registry.Stats()
	assert.Zero(t, conns)
	assert.ErrorIs(t, c.Publish(context.Background(), note(t, newKeys(t), "late")), ErrClientClosed)
}

func TestOriginValidator(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no header", nil, "", true},
		{"localhost default", nil, "http://localhost", true},
		{"other host default", nil, "http://evil.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"exact", []string{"https://app.example"}, "https://app.example", true},
		{"case insensitive", []string{"https://App.Example"}, "https://app.example", true},
		{"scheme mismatch", []string{"https://app.example"}, "http://app.example", false},
		{"host only rule", []string{"app.example"}, "http://app.example:8080", true},
		{"port rule", []string{"app.example:8080"}, "http://app.example:9090", false},
		{"garbage origin", []string{"app.example"}, "::::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originValidator(tt.allowed)(req))
		})
	}
}

func TestUpgradeRejectsForeignOrigin(t *testing.T) {
	r, err := relay.NewRelay(store.NewMemory(0), policy.OpenAuthorizer{}, relay.DefaultSessionLimits())
	require.NoError(t, err)
	srv := NewServer(r, ServerConfig{AllowedOrigins: []string{"https://app.example"}})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := ServerConfig{PongTimeout: 10 * time.Second, PingInterval: 20 * time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 256, cfg.OutboxSize)
	assert.Equal(t, DefaultServerConfig().ReadLimit, cfg.ReadLimit)
}
