// Package interfaces defines the collaborator contracts the relay core
// depends on without owning: persistence, authorization, content policy,
// rate limiting and publication.
//
// The admission pipeline and the envelope sender accept these interfaces so
// the same code runs against the in-memory store in tests and PostgreSQL in
// production, and against a websocket client or an in-process relay.
//
// # Core Interfaces
//
// [Store] persists events and answers historical queries:
//
//	stored, err := st.Save(ctx, ev)
//	switch {
//	case err != nil:
//	    // acknowledge failure
//	case !stored:
//	    // duplicate, acknowledge without re-broadcast
//	}
//
//	for ev, err := range st.Query(ctx, filters) {
//	    if err != nil {
//	        break
//	    }
//	    deliver(ev)
//	}
//
// [Authorizer] decides whether a pubkey may publish. [Validator] checks
// message content and recipient keys before anything is encrypted, and
// [RateLimiter] reports whether an action is allowed for an identity:
//
//	res := limiter.Check("dm", senderPubkey)
//	if !res.Allowed {
//	    return fmt.Errorf("retry in %s", res.RetryAfter)
//	}
//
// [Publisher] hands a finished event to a relay.
//
// # Function Adapters
//
// [AuthorizerFunc] and [PublisherFunc] let plain functions satisfy the
// single-method contracts, which keeps test doubles short:
//
//	var published []*event.Event
//	pub := interfaces.PublisherFunc(func(_ context.Context, ev *event.Event) error {
//	    published = append(published, ev)
//	    return nil
//	})
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. Every blocking method
// takes a context.Context and must return promptly once it is cancelled.
package interfaces
