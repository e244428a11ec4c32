// Package sealrelay implements an event relay with sealed direct messages.
//
// Clients publish signed events over a websocket and subscribe with filters.
// Every event passes an admission pipeline before it is stored and fanned out
// to live subscriptions. Direct messages travel as three-layer gift wraps so
// that the relay never learns who wrote to whom.
//
// # Getting Started
//
// Build a node from a config and run it until the context ends:
//
//	cfg, err := config.Load("relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node, err := sealrelay.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// New opens the store named by the config, builds the authorizer and wires
// metrics when a metrics listener is configured. Options replace any of
// these:
//
//	node, err := sealrelay.New(ctx, cfg,
//	    sealrelay.WithStore(store.NewMemory(0)),
//	    sealrelay.WithPublisherRateLimit(policy.DefaultLimits()))
//
// # Sending Direct Messages
//
// A client dials the relay and hands the connection to an envelope sender:
//
//	client, err := transport.Dial(ctx, "ws://127.0.0.1:7447")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sender, err := envelope.NewSender(keys, client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = sender.Send(ctx, "hello", recipientPubkey)
//
// The recipient subscribes with [envelope.DMFilter] and opens each wrap with
// [envelope.Receive].
//
// # Deterministic Testing
//
// Time-dependent parts accept a [crypto.TimeProvider]:
//
//	clock := crypto.NewFixedTime(time.Unix(1700000000, 0))
//	node, _ := sealrelay.New(ctx, cfg, sealrelay.WithClock(clock))
//
// # Package Layout
//
//   - [event]: event model, canonical serialization, ids and signatures
//   - [filter]: subscription filters and matching
//   - [crypto]: keys, Schnorr signatures and versioned payload encryption
//   - [envelope]: rumor, seal and gift wrap layers plus channel messages
//   - [relay]: admission pipeline, subscription registry and sessions
//   - [store]: in-memory and PostgreSQL event stores
//   - [transport]: websocket server and client
//   - [policy]: authorizers, rate limiting and content validation
//   - [config]: YAML configuration
//   - [metrics]: Prometheus collectors
package sealrelay
