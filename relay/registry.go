package relay

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
)

var (
	// ErrUnknownConnection indicates a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrDuplicateConnection indicates a connection id registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrTooManySubscriptions indicates a connection at its subscription cap.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// ConnID is the opaque token the registry uses to route to a connection.
type ConnID uuid.UUID

// NewConnID returns a random connection id.
func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (c ConnID) String() string {
	return uuid.UUID(c).String()
}

type connEntry struct {
	out  Outbox
	subs map[string]filter.Filters
}

// Registry holds the live subscriptions of every connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connEntry
	total int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]*connEntry)}
}

// Register adds a connection with no subscriptions.
func (r *Registry) Register(id ConnID, out Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	r.conns[id] = &connEntry{out: out, subs: make(map[string]filter.Filters)}
	return nil
}

// Unregister removes a connection and all of its subscriptions. No delivery
// to the connection happens after it returns. It reports how many
// subscriptions were removed.
func (r *Registry) Unregister(id ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return 0
	}
	delete(r.conns, id)
	r.total -= len(entry.subs)
	return len(entry.subs)
}

// Subscribe stores filters under subID for the connection, replacing any
// previous filters with that id. A new id beyond max is refused; max <= 0
// means no cap.
func (r *Registry) Subscribe(id ConnID, subID string, filters filter.Filters, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if _, exists := entry.subs[subID]; !exists {
		if max > 0 && len(entry.subs) >= max {
			return ErrTooManySubscriptions
		}
		r.total++
	}
	entry.subs[subID] = slices.Clone(filters)
	return nil
}

// Unsubscribe removes one subscription. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id ConnID, subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, exists := entry.subs[subID]; !exists {
		return false
	}
	delete(entry.subs, subID)
	r.total--
	return true
}

// Subscriptions returns the sorted subscription ids of a connection.
func (r *Registry) Subscriptions(id ConnID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.subs))
	for subID := range entry.subs {
		ids = append(ids, subID)
	}
	slices.Sort(ids)
	return ids
}

// Stats returns the number of connections and subscriptions.
func (r *Registry) Stats() (connections, subscriptions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), r.total
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	Delivered int
	// Dropped lists connections whose outbox refused the event.
	Dropped []ConnID
}

// Broadcast queues ev to every subscription whose filters match. Delivery
// never blocks; a connection that cannot take the event is skipped for the
// rest of this broadcast and reported in Dropped.
func (r *Registry) Broadcast(ev *event.Event) BroadcastResult {
	var res BroadcastResult
	evJSON, err := ev.MarshalJSON()
	if err != nil {
		return res
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, entry := range r.conns {
		for subID, filters := range entry.subs {
			if !filters.Match(ev) {
				continue
			}
			if !entry.out.TrySend(encodeEventJSON(subID, evJSON)) {
				res.Dropped = append(res.Dropped, id)
				logrus.WithFields(logrus.Fields{
					"function":        "Registry.Broadcast",
					"connection":      id.String(),
					"event_id_prefix": idPrefix(ev.ID),
				}).Warn("Dropped event for slow consumer")
				break
			}
			res.Delivered++
		}
	}
	return res
}

func idPrefix(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
