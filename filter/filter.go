package filter

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/opd-ai/sealrelay/event"
)

// Filter is one conjunctive predicate over events. Nil fields are absent.
type Filter struct {
	IDs     mapset.Set[string]
	Authors mapset.Set[string]
	Kinds   mapset.Set[int]
	// Tags maps a single-letter tag name to the accepted values.
	Tags  map[string]mapset.Set[string]
	Since *int64
	Until *int64
	Limit *int
}

// New returns a filter with no constraints.
func New() *Filter {
	return &Filter{}
}

// WithIDs adds accepted event ids.
func (f *Filter) WithIDs(ids ...string) *Filter {
	f.IDs = addAll(f.IDs, ids)
	return f
}

// WithAuthors adds accepted author pubkeys.
func (f *Filter) WithAuthors(pubkeys ...string) *Filter {
	f.Authors = addAll(f.Authors, pubkeys)
	return f
}

// WithKinds adds accepted kinds.
func (f *Filter) WithKinds(kinds ...int) *Filter {
	f.Kinds = addAll(f.Kinds, kinds)
	return f
}

// WithTag adds accepted values for the tag with the given name.
func (f *Filter) WithTag(name string, values ...string) *Filter {
	if f.Tags == nil {
		f.Tags = make(map[string]mapset.Set[string])
	}
	f.Tags[name] = addAll(f.Tags[name], values)
	return f
}

// WithSince sets the inclusive lower created_at bound.
func (f *Filter) WithSince(ts int64) *Filter {
	f.Since = &ts
	return f
}

// WithUntil sets the inclusive upper created_at bound.
func (f *Filter) WithUntil(ts int64) *Filter {
	f.Until = &ts
	return f
}

// WithLimit sets the historical query limit.
func (f *Filter) WithLimit(n int) *Filter {
	f.Limit = &n
	return f
}

func addAll[T comparable](s mapset.Set[T], values []T) mapset.Set[T] {
	if s == nil {
		s = mapset.NewThreadUnsafeSet[T]()
	}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Matches reports whether ev satisfies every present constraint.
func (f *Filter) Matches(ev *event.Event) bool {
	if ev == nil {
		return false
	}
	if f.IDs != nil && !f.IDs.Contains(ev.ID) {
		return false
	}
	if f.Authors != nil && !f.Authors.Contains(ev.PubKey) {
		return false
	}
	if f.Kinds != nil && !f.Kinds.Contains(ev.Kind) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if !hasTagValue(ev.Tags, name, values) {
			return false
		}
	}
	return true
}

func hasTagValue(tags event.Tags, name string, values mapset.Set[string]) bool {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name && values.Contains(t[1]) {
			return true
		}
	}
	return false
}

// EffectiveLimit returns the number of historical events the filter asks
// for, capped at max. An absent limit yields max.
func (f *Filter) EffectiveLimit(max int) int {
	if f.Limit == nil || *f.Limit > max {
		return max
	}
	if *f.Limit < 0 {
		return 0
	}
	return *f.Limit
}

// Filters is a disjunction of filters.
type Filters []Filter

// Match reports whether ev matches at least one filter.
func (fs Filters) Match(ev *event.Event) bool {
	for i := range fs {
		if fs[i].Matches(ev) {
			return true
		}
	}
	return false
}
