package store

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/interfaces"
)

// Memory is an in-process Store. Yielded events are shared with the store
// and must not be modified.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]*event.Event
	ordered    []*event.Event
	queryLimit int
	closed     bool
}

var _ interfaces.Store = (*Memory)(nil)

// NewMemory returns an empty store. A queryLimit <= 0 selects
// DefaultQueryLimit.
func NewMemory(queryLimit int) *Memory {
	return &Memory{
		byID:       make(map[string]*event.Event),
		queryLimit: queryLimit,
	}
}

// Save implements interfaces.Store.
func (m *Memory) Save(ctx context.Context, ev *event.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.byID[ev.ID]; ok {
		return false, nil
	}
	stored := clone(ev)
	i, _ := slices.BinarySearchFunc(m.ordered, stored, newestFirst)
	m.ordered = slices.Insert(m.ordered, i, stored)
	m.byID[stored.ID] = stored

	logrus.WithFields(logrus.Fields{
		"function":        "Memory.Save",
		"event_id_prefix": idPrefix(stored.ID),
		"total":           len(m.ordered),
	}).Debug("Stored event")
	return true, nil
}

// Query implements interfaces.Store.
func (m *Memory) Query(ctx context.Context, filters filter.Filters) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield(nil, ErrClosed)
			return
		}
		capN := queryLimit(m.queryLimit)
		batches := make([][]*event.Event, 0, len(filters))
		for i := range filters {
			batches = append(batches, m.scan(&filters[i], capN))
		}
		m.mu.RUnlock()

		for _, ev := range mergeResults(batches...) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// scan walks the ordered events, newest first. m.mu must be held.
func (m *Memory) scan(f *filter.Filter, capN int) []*event.Event {
	limit := f.EffectiveLimit(capN)
	if limit == 0 {
		return nil
	}
	var out []*event.Event
	for _, ev := range m.ordered {
		if f.Until != nil && ev.CreatedAt > *f.Until {
			continue
		}
		if f.Since != nil && ev.CreatedAt < *f.Since {
			break
		}
		if f.Matches(ev) {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Get returns the stored event with id.
func (m *Memory) Get(id string) (*event.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byID[id]
	return ev, ok
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ordered)
}

// Close drops all events. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.byID = nil
	m.ordered = nil
	return nil
}
