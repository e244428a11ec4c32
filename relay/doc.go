// Package relay implements the relay core: the wire codec, the admission
// pipeline, the subscription registry and the per-connection session that
// ties them together.
//
// # Wire Format
//
// Every message is a JSON array whose first element names its type. Clients
// send
//
//	["EVENT", <event>]
//	["REQ", <subscription id>, <filter>, ...]
//	["CLOSE", <subscription id>]
//
// and the relay answers with
//
//	["OK", <event id>, <true|false>, <message>]
//	["EVENT", <subscription id>, <event>]
//	["EOSE", <subscription id>]
//	["NOTICE", <message>]
//
// # Admission
//
// [Pipeline.Admit] moves an inbound event through the stages
//
//	RECEIVED → STRUCTURALLY_VALID → AUTHORIZED → ID_VERIFIED →
//	SIG_VERIFIED → PERSISTED → BROADCAST
//
// with cheap checks first. Any stage can reject; the [Result] carries the
// final stage and the OK message, whose prefix ("invalid:", "blocked:",
// "rate-limited:", "error:") is machine readable. Store and authorization
// calls run under their own timeouts.
//
// # Subscriptions and Fan-out
//
// The [Registry] maps each connection to its subscriptions. Broadcast holds a
// read lock and queues into each connection's [Outbox] without blocking; a
// connection whose queue is full is cut off on its own and delivery to the
// others continues. Unregistering a connection removes all of its
// subscriptions at once.
//
// A [Session] serves one connection: it decodes inbound messages, runs
// EVENT through the pipeline, answers REQ with stored events followed by a
// single EOSE, and turns malformed input into a NOTICE. It never panics on
// peer input.
package relay
