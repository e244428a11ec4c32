// Package event defines the signed record exchanged through the relay and the
// canonical codec that derives its identifier.
//
// An [Event] is immutable once signed. Its id is the SHA-256 digest of the
// canonical serialization
//
//	[0,<pubkey>,<created_at>,<kind>,<tags>,<content>]
//
// with no insignificant whitespace, strings escaped per the relay protocol
// (only '"', '\\' and control characters are escaped, everything else is
// emitted as raw UTF-8) and integers in plain base 10. [Serialize] is the one
// routine that produces those bytes; every id in the system comes from it.
//
// Events are built from a [Template] and a key pair:
//
//	ev, err := event.Template{Kind: event.KindTextNote, Content: "hi"}.Finalize(keys, now)
//
// and checked in increasing order of cost:
//
//	event.Check(ev)        // field shapes and lengths
//	ev.VerifyID()          // recompute the canonical digest
//	ev.VerifySignature()   // BIP-340 over the id
//
// [Unsigned] is the id-bearing but signature-less shape used for the
// innermost layer of a gift wrap.
package event
