package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/sealrelay/limits"
	"github.com/opd-ai/sealrelay/relay"
)

// ErrServerClosed is returned by ListenAndServe after Close.
var ErrServerClosed = errors.New("transport: server closed")

// ServerConfig tunes the websocket binding.
type ServerConfig struct {
	AllowedOrigins []string
	// OutboxSize is the number of queued messages after which a connection
	// is dropped as a slow consumer.
	OutboxSize int
	// ReadLimit is the largest frame read before the connection is closed.
	// Frames between the session's message limit and ReadLimit get a NOTICE.
	ReadLimit    int64
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
}

// DefaultServerConfig returns the defaults used by the CLI.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		OutboxSize:   256,
		ReadLimit:    2 * limits.MaxMessageBytes,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout / 2
	}
	return c
}

// Server serves relay sessions over websocket.
type Server struct {
	relay    *relay.Relay
	cfg      ServerConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	httpSrv *http.Server
	closed  bool
	wg      sync.WaitGroup
}

// NewServer returns a server for r.
func NewServer(r *relay.Relay, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		relay: r,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originValidator(cfg.AllowedOrigins),
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Debug("Websocket upgrade failed")
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	s.serveConn(r.Context(), conn)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveConn(parent context.Context, conn *websocket.Conn) {
	out := relay.NewChanOutbox(s.cfg.OutboxSize)
	session, err := s.relay.Open(out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.serveConn",
			"error":    err.Error(),
		}).Error("Failed to open session")
		conn.Close()
		return
	}
	log := logrus.WithFields(logrus.Fields{
		"function":   "Server.serveConn",
		"connection": session.ID().String(),
		"remote":     conn.RemoteAddr().String(),
	})
	log.Info("Connection accepted")

	g, ctx := errgroup.WithContext(context.WithoutCancel(parent))
	g.Go(func() error {
		defer out.Close()
		return s.readLoop(ctx, conn, session)
	})
	g.Go(func() error {
		defer conn.Close()
		return s.writeLoop(ctx, conn, out)
	})
	err = g.Wait()

	session.Close(out.Overflowed())
	fields := logrus.Fields{"slow": out.Overflowed()}
	if err != nil && !isClosure(err) {
		fields["error"] = err.Error()
	}
	log.WithFields(fields).Info("Connection closed")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *relay.Session) error {
	conn.SetReadLimit(s.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := session.Handle(ctx, data); err != nil {
			return fmt.Errorf("queue reply: %w", err)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out *relay.ChanOutbox) error {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-out.Messages():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return err
			}
		case <-out.Done():
			return s.closeFrame(conn, out)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// closeFrame flushes what is already queued, unless the outbox overflowed,
// and sends a close frame.
func (s *Server) closeFrame(conn *websocket.Conn, out *relay.ChanOutbox) error {
	code, reason := websocket.CloseNormalClosure, ""
	if out.Overflowed() {
		code, reason = websocket.ClosePolicyViolation, "slow consumer"
	} else {
	drain:
		for {
			select {
			case msg := <-out.Messages():
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return err
				}
			default:
				break drain
			}
		}
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.cfg.WriteTimeout))
	if out.Overflowed() {
		return errSlowConsumer
	}
	return nil
}

var errSlowConsumer = errors.New("slow consumer")

func isClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// ListenAndServe serves on addr until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.httpSrv = httpSrv
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
		"address":  ln.Addr().String(),
	}).Info("Relay listening")

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.Close()
	<-errCh
	return err
}

// Close stops accepting, closes every open connection and waits for their
// sessions to end.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
