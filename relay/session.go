package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/interfaces"
	"github.com/opd-ai/sealrelay/limits"
)

// NOTICE texts.
const (
	NoticeInvalidFormat       = "Invalid message format"
	NoticeUnknownType         = "Unknown message type: %s"
	NoticeProcessingError     = "Error processing message"
	NoticeMessageTooLarge     = "error: message too large"
	NoticeInvalidSubscription = "error: invalid subscription id"
	NoticeTooManyFilters      = "error: too many filters"
	NoticeTooManySubs         = "error: too many subscriptions"
	NoticeQueryFailed         = "error: failed to query events"
)

// SessionLimits bounds what one connection may do.
type SessionLimits struct {
	MaxMessageBytes  int
	MaxSubscriptions int
	MaxFilters       int
	QueryTimeout     time.Duration
}

// DefaultSessionLimits returns the default per-connection limits.
func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		MaxMessageBytes:  limits.MaxMessageBytes,
		MaxSubscriptions: limits.MaxSubscriptionsPerConnection,
		MaxFilters:       limits.MaxFiltersPerRequest,
		QueryTimeout:     DefaultStoreTimeout,
	}
}

// Relay bundles the shared state every session uses.
type Relay struct {
	Pipeline *Pipeline
	Registry *Registry
	Store    interfaces.Store
	Limits   SessionLimits
	Observer Observer
}

// NewRelay wires a pipeline over store and auth with a fresh registry.
func NewRelay(store interfaces.Store, auth interfaces.Authorizer, lim SessionLimits, opts ...PipelineOption) (*Relay, error) {
	registry := NewRegistry()
	p, err := NewPipeline(store, auth, registry, opts...)
	if err != nil {
		return nil, err
	}
	return &Relay{
		Pipeline: p,
		Registry: registry,
		Store:    store,
		Limits:   lim,
		Observer: p.observer,
	}, nil
}

// Session serves one connection. Handle must be called from a single
// goroutine; fan-out from other connections arrives through the outbox.
type Session struct {
	id    ConnID
	relay *Relay
	out   Outbox
}

// Open registers a new connection delivering to out.
func (r *Relay) Open(out Outbox) (*Session, error) {
	id := NewConnID()
	if err := r.Registry.Register(id, out); err != nil {
		return nil, err
	}
	r.Observer.ConnectionOpened()
	logrus.WithFields(logrus.Fields{
		"function":   "Relay.Open",
		"connection": id.String(),
	}).Debug("Session opened")
	return &Session{id: id, relay: r, out: out}, nil
}

// ID returns the connection id.
func (s *Session) ID() ConnID {
	return s.id
}

// Close unregisters the connection and all its subscriptions.
func (s *Session) Close(slow bool) {
	removed := s.relay.Registry.Unregister(s.id)
	_, total := s.relay.Registry.Stats()
	s.relay.Observer.ConnectionClosed(slow)
	s.relay.Observer.SubscriptionsChanged(total)
	logrus.WithFields(logrus.Fields{
		"function":      "Session.Close",
		"connection":    s.id.String(),
		"subscriptions": removed,
		"slow":          slow,
	}).Debug("Session closed")
}

// Handle processes one inbound message. It never panics; failures become
// OK or NOTICE replies. The returned error is non-nil only when the reply
// could not be queued, and the connection should then be closed.
func (s *Session) Handle(ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Session.Handle",
				"connection": s.id.String(),
				"panic":      fmt.Sprint(r),
				"stack":      string(debug.Stack()),
			}).Error("Recovered from panic while handling message")
			err = s.notice(ctx, NoticeProcessingError)
		}
	}()

	if maxBytes := s.relay.Limits.MaxMessageBytes; maxBytes > 0 {
		if verr := limits.ValidateMessage(data, maxBytes); errors.Is(verr, limits.ErrTooLarge) {
			return s.notice(ctx, NoticeMessageTooLarge)
		}
	}

	msg, perr := ParseClientMessage(data)
	if perr != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Handle",
			"connection": s.id.String(),
			"error":      perr.Error(),
		}).Debug("Malformed client message")
		if errors.Is(perr, ErrUnknownMessage) {
			typ, _, _ := splitArray(data)
			return s.notice(ctx, fmt.Sprintf(NoticeUnknownType, typ))
		}
		return s.notice(ctx, NoticeInvalidFormat)
	}

	switch m := msg.(type) {
	case EventMessage:
		res := s.relay.Pipeline.Admit(ctx, m.Raw)
		return s.out.Send(ctx, EncodeOK(res.EventID, res.Accepted, res.Message))
	case ReqMessage:
		return s.handleReq(ctx, m)
	case CloseMessage:
		if s.relay.Registry.Unsubscribe(s.id, m.SubID) {
			_, total := s.relay.Registry.Stats()
			s.relay.Observer.SubscriptionsChanged(total)
		}
		return nil
	}
	return s.notice(ctx, NoticeInvalidFormat)
}

func (s *Session) handleReq(ctx context.Context, m ReqMessage) (err error) {
	if err := limits.ValidateSubscriptionID(m.SubID); err != nil {
		return s.notice(ctx, NoticeInvalidSubscription)
	}
	if maxFilters := s.relay.Limits.MaxFilters; maxFilters > 0 && len(m.Filters) > maxFilters {
		return s.notice(ctx, NoticeTooManyFilters)
	}
	if err := s.relay.Registry.Subscribe(s.id, m.SubID, m.Filters, s.relay.Limits.MaxSubscriptions); err != nil {
		if errors.Is(err, ErrTooManySubscriptions) {
			return s.notice(ctx, NoticeTooManySubs)
		}
		return s.notice(ctx, NoticeProcessingError)
	}
	_, total := s.relay.Registry.Stats()
	s.relay.Observer.SubscriptionsChanged(total)

	timeout := s.relay.Limits.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if rp, ok := s.out.(Replayer); ok {
		rp.BeginReplay()
		defer func() {
			if rerr := rp.EndReplay(ctx); err == nil {
				err = rerr
			}
		}()
	}

	sent := 0
	for ev, err := range s.relay.Store.Query(qctx, m.Filters) {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "Session.handleReq",
				"connection":   s.id.String(),
				"subscription": m.SubID,
				"error":        err.Error(),
			}).Error("Historical query failed")
			if nerr := s.notice(ctx, NoticeQueryFailed); nerr != nil {
				return nerr
			}
			break
		}
		if err := s.out.Send(ctx, EncodeEvent(m.SubID, ev)); err != nil {
			return err
		}
		sent++
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Session.handleReq",
		"connection":   s.id.String(),
		"subscription": m.SubID,
		"filters":      len(m.Filters),
		"stored":       sent,
	}).Debug("Subscription opened")
	return s.out.Send(ctx, EncodeEOSE(m.SubID))
}

func (s *Session) notice(ctx context.Context, message string) error {
	s.relay.Observer.Notice(message)
	return s.out.Send(ctx, EncodeNotice(message))
}
