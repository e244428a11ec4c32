package sealrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/sealrelay/config"
	"github.com/opd-ai/sealrelay/crypto"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/metrics"
	"github.com/opd-ai/sealrelay/policy"
	"github.com/opd-ai/sealrelay/relay"
	"github.com/opd-ai/sealrelay/store"
	"github.com/opd-ai/sealrelay/transport"
)

// RateLimitTableSize bounds the number of publishers tracked by the
// admission limiter.
const RateLimitTableSize = 10000

// Store is an event store that holds resources.
type Store interface {
	interfaces.Store
	Close() error
}

// Option configures New.
type Option func(*options)

type options struct {
	store      Store
	authorizer interfaces.Authorizer
	rateLimits map[string]policy.Limit
	registry   *prometheus.Registry
	clock      crypto.TimeProvider
}

// WithStore uses st instead of the store named in the config. The node
// closes it.
func WithStore(st Store) Option {
	return func(o *options) { o.store = st }
}

// WithAuthorizer replaces the authorizer built from the config.
func WithAuthorizer(a interfaces.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}

// WithPublisherRateLimit limits how fast each pubkey may publish. Only the
// message action applies to admission.
func WithPublisherRateLimit(limits map[string]policy.Limit) Option {
	return func(o *options) { o.rateLimits = limits }
}

// WithMetricsRegistry registers the relay collectors on reg. Without it a
// fresh registry is used when metrics.listen is set.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock sets the time source for caches and rate limiting.
func WithClock(tp crypto.TimeProvider) Option {
	return func(o *options) { o.clock = tp }
}

// Node is a configured relay together with its listeners.
type Node struct {
	cfg      *config.Config
	store    Store
	relay    *relay.Relay
	server   *transport.Server
	recorder *metrics.Recorder

	closeOnce sync.Once
	closeErr  error
}

// New builds a node from cfg. The config is validated first.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.clock = crypto.OrSystem(o.clock)

	st := o.store
	if st == nil {
		var err error
		if st, err = OpenStore(ctx, cfg); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	auth := o.authorizer
	if auth == nil {
		var err error
		if auth, err = BuildAuthorizer(cfg, o.clock); err != nil {
			st.Close()
			return nil, fmt.Errorf("build authorizer: %w", err)
		}
	}

	pipelineOpts := []relay.PipelineOption{
		relay.WithTimeouts(cfg.Timeouts.Store, cfg.Timeouts.Auth),
		relay.WithEventValidator(policy.NewContentValidator()),
	}
	if o.rateLimits != nil {
		limiter, err := policy.NewRateLimiter(o.rateLimits, RateLimitTableSize, o.clock)
		if err != nil {
			st.Close()
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, relay.WithAdmissionLimiter(limiter))
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Listen != "" || o.registry != nil {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		rec = metrics.NewRecorder(reg)
		pipelineOpts = append(pipelineOpts, relay.WithObserver(rec))
	}

	r, err := relay.NewRelay(st, auth, SessionLimits(cfg), pipelineOpts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"store":    cfg.Store.Driver,
		"auth":     cfg.Auth.Mode,
		"metrics":  rec != nil,
	}).Info("Relay node created")

	return &Node{
		cfg:      cfg,
		store:    st,
		relay:    r,
		server:   transport.NewServer(r, ServerConfig(cfg)),
		recorder: rec,
	}, nil
}

// OpenStore opens the store named by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return store.OpenPostgres(ctx, cfg.Store.DSN, cfg.Store.QueryLimit)
	case config.DriverMemory, "":
		return store.NewMemory(cfg.Store.QueryLimit), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}
}

// BuildAuthorizer returns the authorizer for cfg.Auth. Allowlists are
// wrapped in a cache unless the cache is disabled.
func BuildAuthorizer(cfg *config.Config, clock crypto.TimeProvider) (interfaces.Authorizer, error) {
	if cfg.Auth.Mode != config.AuthAllowList {
		return policy.OpenAuthorizer{}, nil
	}
	list := policy.NewAllowList(cfg.Auth.Pubkeys...)
	if cfg.Auth.CacheSize <= 0 || cfg.Auth.CacheTTL <= 0 {
		return list, nil
	}
	return policy.NewCachedAuthorizer(list, cfg.Auth.CacheSize, cfg.Auth.CacheTTL, clock)
}

// SessionLimits converts the per-connection settings of cfg.
func SessionLimits(cfg *config.Config) relay.SessionLimits {
	return relay.SessionLimits{
		MaxMessageBytes:  cfg.Limits.MaxMessageBytes,
		MaxSubscriptions: cfg.Limits.MaxSubscriptions,
		MaxFilters:       cfg.Limits.MaxFilters,
		QueryTimeout:     cfg.Timeouts.Store,
	}
}

// ServerConfig converts the websocket settings of cfg. Frames up to twice
// the message limit are read so that oversize messages get a NOTICE
// instead of a dropped connection.
func ServerConfig(cfg *config.Config) transport.ServerConfig {
	return transport.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		OutboxSize:     cfg.OutboxSize,
		ReadLimit:      int64(2 * cfg.Limits.MaxMessageBytes),
		WriteTimeout:   cfg.Timeouts.Write,
		PongTimeout:    cfg.Timeouts.Pong,
	}
}

// Relay returns the session factory.
func (n *Node) Relay() *relay.Relay {
	return n.relay
}

// Handler returns the websocket handler.
func (n *Node) Handler() http.Handler {
	return n.server
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are off.
func (n *Node) MetricsHandler() http.Handler {
	if n.recorder == nil {
		return nil
	}
	return n.recorder.Handler()
}

// Run serves the relay on cfg.Listen and metrics on cfg.Metrics.Listen until
// ctx is done. It closes the node before returning.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.Listen)
	if err != nil {
		n.Close()
		return err
	}
	return n.Serve(ctx, ln)
}

// Serve is Run with an existing relay listener.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	defer n.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := n.server.Serve(gctx, ln)
		if errors.Is(err, transport.ErrServerClosed) {
			return nil
		}
		return err
	})
	if n.recorder != nil && n.cfg.Metrics.Listen != "" {
		g.Go(func() error { return n.serveMetrics(gctx) })
	}
	return g.Wait()
}

func (n *Node) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.recorder.Handler())
	hs := &http.Server{Addr: n.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	logrus.WithFields(logrus.Fields{
		"function": "Node.serveMetrics",
		"address":  n.cfg.Metrics.Listen,
	}).Info("Serving metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// Close stops the server and closes the store. It is safe to call more
// than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.server.Close()
		n.closeErr = n.store.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Node.Close",
		}).Info("Relay node closed")
	})
	return n.closeErr
}
