// Package transport binds the relay to websocket connections.
//
// # Server
//
// Server is an http.Handler that upgrades requests to websocket
// connections and runs one relay.Session per connection:
//
//	r, _ := relay.NewRelay(store.NewMemory(0), policy.OpenAuthorizer{}, relay.DefaultSessionLimits())
//	srv := transport.NewServer(r, transport.DefaultServerConfig())
//	err := srv.ListenAndServe(ctx, ":7447")
//
// Each connection has a reader goroutine that feeds frames to the session
// and a writer goroutine that drains the session outbox. Replies on a
// connection are written in the order they were queued. A connection whose
// outbox fills up during broadcast is closed as a slow consumer; other
// connections are unaffected.
//
// Browser requests are checked against the configured allowed origins.
// Requests without an Origin header are accepted.
//
// # Client
//
// Client speaks the same protocol from the other side:
//
//	c, err := transport.Dial(ctx, "ws://localhost:7447")
//	defer c.Close()
//	err = c.Publish(ctx, ev)
//	events, err := c.Query(ctx, "inbox", *envelope.DMFilter(kp.PublicHex()))
//
// Publish waits for the relay's OK and reports a rejection as an error
// wrapping ErrRejected, so *Client can be used as the interfaces.Publisher
// of an envelope.Sender.
package transport
