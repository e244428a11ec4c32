// Package filter implements the subscription predicate.
//
// A [Filter] is a conjunction of optional constraints: ids, authors, kinds,
// single-letter tag value sets and an inclusive created_at window. An absent
// constraint matches everything; a present but empty set matches nothing.
// [Filters] is a disjunction: an event qualifies when any member matches.
//
// Limit only bounds the initial historical query and is ignored by
// [Filter.Matches].
//
//	f := filter.New().WithKinds(event.KindGiftWrap).WithTag("p", myPubkey)
//	if filter.Filters{*f}.Match(ev) { ... }
//
// Filters encode to and from the relay wire form, where tag constraints use
// keys of the form "#p".
package filter
