package store

import (
	"cmp"
	"errors"
	"slices"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/limits"
)

// ErrClosed is returned by a store that has been closed.
var ErrClosed = errors.New("store closed")

// DefaultQueryLimit caps the events returned for one filter.
const DefaultQueryLimit = limits.MaxQueryResults

// newestFirst orders events by created_at descending, then id ascending.
func newestFirst(a, b *event.Event) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// mergeResults sorts and de-duplicates the per-filter results.
func mergeResults(batches ...[]*event.Event) []*event.Event {
	var all []*event.Event
	for _, b := range batches {
		all = append(all, b...)
	}
	slices.SortFunc(all, newestFirst)
	return slices.CompactFunc(all, func(a, b *event.Event) bool { return a.ID == b.ID })
}

func queryLimit(n int) int {
	if n <= 0 {
		return DefaultQueryLimit
	}
	return n
}

// clone copies ev so that later changes by the caller do not reach the store.
func clone(ev *event.Event) *event.Event {
	c := *ev
	c.Tags = ev.Tags.Clone()
	if c.Tags == nil {
		c.Tags = event.Tags{}
	}
	return &c
}

func idPrefix(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
