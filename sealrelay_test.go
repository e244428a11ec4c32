package sealrelay

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/config"
	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/policy"
	"github.com/opd-ai/sealrelay/store"
	"github.com/opd-ai/sealrelay/transport"
)

const testPubkey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

type closeCountingStore struct {
	*store.Memory
	closes int
}

func (s *closeCountingStore) Close() error {
	s.closes++
	return s.Memory.Close()
}

func TestBuildAuthorizer(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	auth, err := BuildAuthorizer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, policy.OpenAuthorizer{}, auth)

	cfg.Auth.Mode = config.AuthAllowList
	cfg.Auth.Pubkeys = []string{testPubkey}
	auth, err = BuildAuthorizer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &policy.CachedAuthorizer{}, auth)

	ok, err := auth.IsAllowed(ctx, testPubkey)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = auth.IsAllowed(ctx, strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)

	cfg.Auth.CacheSize = 0
	auth, err = BuildAuthorizer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &policy.AllowList{}, auth)
}

func TestConfigConversions(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"https://example.com"}
	cfg.Timeouts.Store = 3 * time.Second

	lim := SessionLimits(cfg)
	assert.Equal(t, cfg.Limits.MaxMessageBytes, lim.MaxMessageBytes)
	assert.Equal(t, cfg.Limits.MaxSubscriptions, lim.MaxSubscriptions)
	assert.Equal(t, cfg.Limits.MaxFilters, lim.MaxFilters)
	assert.Equal(t, 3*time.Second, lim.QueryTimeout)

	sc := ServerConfig(cfg)
	assert.Equal(t, []string{"https://example.com"}, sc.AllowedOrigins)
	assert.Equal(t, cfg.OutboxSize, sc.OutboxSize)
	assert.Equal(t, int64(2*cfg.Limits.MaxMessageBytes), sc.ReadLimit)
	assert.Equal(t, cfg.Timeouts.Write, sc.WriteTimeout)
	assert.Equal(t, cfg.Timeouts.Pong, sc.PongTimeout)
}

func TestOpenStore(t *testing.T) {
	st, err := OpenStore(context.Background(), config.Default())
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, st)
	assert.NoError(t, st.Close())

	cfg := config.Default()
	cfg.Store.Driver = "cassandra"
	_, err = OpenStore(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = ""
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewRejectsBadRateLimit(t *testing.T) {
	st := &closeCountingStore{Memory: store.NewMemory(0)}
	_, err := New(context.Background(), nil,
		WithStore(st),
		WithPublisherRateLimit(map[string]policy.Limit{policy.ActionMessage: {}}))
	assert.ErrorIs(t, err, policy.ErrInvalidLimit)
	assert.Equal(t, 1, st.closes)
}

func TestNodeServe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := &closeCountingStore{Memory: store.NewMemory(0)}
	reg := prometheus.NewRegistry()
	node, err := New(ctx, config.Default(), WithStore(st), WithMetricsRegistry(reg))
	require.NoError(t, err)
	require.NotNil(t, node.MetricsHandler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- node.Serve(serveCtx, ln) }()

	client, err := transport.Dial(ctx, "ws://"+ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	ev, err := event.Template{Kind: event.KindTextNote, Content: "hello relay"}.Finalize(kp, nil)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, ev))

	got, err := client.Query(ctx, "q", *filter.New().WithAuthors(kp.PublicHex()))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)

	rec := httptest.NewRecorder()
	node.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `sealrelay_admissions_total{kind="1",outcome="accepted"} 1`)

	stop()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("node did not stop")
	}
	assert.NoError(t, node.Close())
	assert.Equal(t, 1, st.closes)
}

func TestNodeWithoutMetrics(t *testing.T) {
	node, err := New(context.Background(), config.Default())
	require.NoError(t, err)
	assert.Nil(t, node.MetricsHandler())
	assert.NotNil(t, node.Handler())
	assert.NotNil(t, node.Relay())
	assert.NoError(t, node.Close())
	assert.NoError(t, node.Close())
}
