package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/relay"
)

var (
	// ErrRejected is wrapped by Publish when the relay answers OK false.
	ErrRejected = errors.New("event rejected by relay")
	// ErrClientClosed is wrapped by every error returned once the connection
	// is gone.
	ErrClientClosed = errors.New("transport: client closed")
	// ErrSubscriptionClosed indicates the relay ended a subscription.
	ErrSubscriptionClosed = errors.New("subscription closed by relay")
)

// ClientOption configures Dial.
type ClientOption func(*clientConfig)

type clientConfig struct {
	dialer       *websocket.Dialer
	bufferSize   int
	writeTimeout time.Duration
	pingInterval time.Duration
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *clientConfig) { c.dialer = d }
}

// WithEventBuffer sets how many events a subscription buffers before the
// client drops new ones.
func WithEventBuffer(n int) ClientOption {
	return func(c *clientConfig) { c.bufferSize = n }
}

// WithPingInterval sets the keepalive ping interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.pingInterval = d }
}

// Client is a connection to a relay.
type Client struct {
	conn *websocket.Conn
	cfg  clientConfig

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string][]chan *relay.RelayMessage
	subs    map[string]*Subscription
	notices chan string
	err     error

	cancel context.CancelFunc
	done   chan struct{}
}

var _ interfaces.Publisher = (*Client)(nil)

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		dialer:       websocket.DefaultDialer,
		bufferSize:   256,
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn, resp, err := cfg.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, loopCtx := errgroup.WithContext(loopCtx)
	c := &Client{
		conn:    conn,
		cfg:     cfg,
		pending: make(map[string][]chan *relay.RelayMessage),
		subs:    make(map[string]*Subscription),
		notices: make(chan string, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.pingLoop(loopCtx) })
	go func() {
		err := g.Wait()
		c.shutdown(err)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"url":      url,
	}).Debug("Connected to relay")
	return c, nil
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) pingLoop(ctx context.Context) error {
	t := time.NewTicker(c.cfg.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.writeTimeout)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := relay.ParseRelayMessage(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readLoop",
				"error":    err.Error(),
			}).Warn("Ignoring malformed relay message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *relay.RelayMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case relay.TypeOK:
		waiters := c.pending[msg.EventID]
		if len(waiters) == 0 {
			return
		}
		waiters[0] <- msg
		if len(waiters) == 1 {
			delete(c.pending, msg.EventID)
		} else {
			c.pending[msg.EventID] = waiters[1:]
		}
	case relay.TypeEvent:
		if sub, ok := c.subs[msg.SubID]; ok {
			sub.deliver(msg.Event)
		}
	case relay.TypeEOSE:
		if sub, ok := c.subs[msg.SubID]; ok {
			sub.eoseOnce.Do(func() { close(sub.eose) })
		}
	case relay.TypeClosed:
		if sub, ok := c.subs[msg.SubID]; ok {
			delete(c.subs, msg.SubID)
			sub.finish(fmt.Errorf("%w: %s", ErrSubscriptionClosed, msg.Message))
		}
	case relay.TypeNotice:
		select {
		case c.notices <- msg.Message:
		default:
		}
	}
}

func (c *Client) shutdown(err error) {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.err == nil {
		if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = ErrClientClosed
		} else {
			err = fmt.Errorf("%w: %v", ErrClientClosed, err)
		}
		c.err = err
	}
	close(c.done)
	for id, waiters := range c.pending {
		for _, w := range waiters {
			close(w)
		}
		delete(c.pending, id)
	}
	for id, sub := range c.subs {
		sub.finish(c.err)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.writeMu.Unlock()
	c.cancel()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Notices yields NOTICE messages. Notices are dropped when nobody reads.
func (c *Client) Notices() <-chan string {
	return c.notices
}

// Publish sends ev and waits for the relay's OK. A duplicate is not an
// error.
func (c *Client) Publish(ctx context.Context, ev *event.Event) error {
	wait := make(chan *relay.RelayMessage, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[ev.ID] = append(c.pending[ev.ID], wait)
	c.mu.Unlock()

	if err := c.write(relay.EncodeEventMessage(ev)); err != nil {
		c.forget(ev.ID, wait)
		return fmt.Errorf("publish: %w", err)
	}

	select {
	case msg, ok := <-wait:
		if !ok {
			return c.Err()
		}
		if !msg.Accepted {
			return fmt.Errorf("%w: %s", ErrRejected, msg.Message)
		}
		return nil
	case <-ctx.Done():
		c.forget(ev.ID, wait)
		return ctx.Err()
	}
}

func (c *Client) forget(id string, wait chan *relay.RelayMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.pending[id]
	for i, w := range waiters {
		if w == wait {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.pending, id)
	} else {
		c.pending[id] = waiters
	}
}

// Subscription receives events for one REQ.
type Subscription struct {
	ID string

	client   *Client
	events   chan *event.Event
	eose     chan struct{}
	eoseOnce sync.Once
	err      error
	finished bool
}

// Events yields stored events followed by live ones. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan *event.Event {
	return s.events
}

// EOSE is closed once the relay has sent every stored event.
func (s *Subscription) EOSE() <-chan struct{} {
	return s.eose
}

// Err returns why the subscription ended. It is valid after Events closes.
func (s *Subscription) Err() error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.err
}

// deliver and finish run with client.mu held.
func (s *Subscription) deliver(ev *event.Event) {
	select {
	case s.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "Subscription.deliver",
			"subscription": s.ID,
		}).Warn("Dropping event for full subscription buffer")
	}
}

func (s *Subscription) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.events)
}

// Close sends CLOSE and ends the subscription.
func (s *Subscription) Close() error {
	c := s.client
	c.mu.Lock()
	if cur, ok := c.subs[s.ID]; ok && cur == s {
		delete(c.subs, s.ID)
	}
	s.finish(nil)
	c.mu.Unlock()
	if err := c.write(relay.EncodeClose(s.ID)); err != nil && !errors.Is(err, ErrClientClosed) {
		return err
	}
	return nil
}

// Subscribe opens subscription id. A previous subscription with the same id
// is replaced and its Events closed.
func (c *Client) Subscribe(_ context.Context, id string, filters ...filter.Filter) (*Subscription, error) {
	sub := &Subscription{
		ID:     id,
		client: c,
		events: make(chan *event.Event, c.cfg.bufferSize),
		eose:   make(chan struct{}),
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	if old, ok := c.subs[id]; ok {
		old.finish(nil)
	}
	c.subs[id] = sub
	c.mu.Unlock()

	if err := c.write(relay.EncodeReq(id, filters...)); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Query subscribes, collects the stored events up to EOSE and closes the
// subscription.
func (c *Client) Query(ctx context.Context, id string, filters ...filter.Filter) ([]*event.Event, error) {
	sub, err := c.Subscribe(ctx, id, filters...)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	var out []*event.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return out, err
				}
				return out, nil
			}
			out = append(out, ev)
		case <-sub.EOSE():
			// events queued before EOSE are already buffered
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						return out, nil
					}
					out = append(out, ev)
				default:
					return out, nil
				}
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Close closes the connection and waits for the client goroutines.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
	<-c.done
	return nil
}
