// Package envelope implements metadata-private direct messages as three
// nested layers.
//
//   - [Rumor] (kind 14) is the real message: real author, real time, the
//     recipient in a p tag, and the plaintext. It is never signed.
//   - [Seal] (kind 13) is signed by the real author and carries the rumor
//     encrypted under the conversation key of sender and recipient.
//   - [GiftWrap] (kind 1059) is signed by a single-use key, timestamped
//     within [FuzzWindow] of the real time, tagged only with the recipient,
//     and carries the seal encrypted under the conversation key of the
//     single-use key and the recipient.
//
// Only the gift wrap is ever published. The three layers are distinct types
// so an intermediate layer cannot be published by mistake.
//
//	sender, _ := envelope.NewSender(myKeys, relayClient,
//	    envelope.WithRateLimiter(limiter))
//	wrap, err := sender.Send(ctx, "Hey, want to grab coffee?", theirPubkey)
//
//	msg, ok := envelope.Receive(wrapEvent, myKeys)
//	if ok {
//	    fmt.Println(msg.SenderPubkey, msg.Content)
//	}
//
// [Receive] never fails loudly: anything that is not a well-formed wrap for
// the given key, including a seal whose signature does not verify, yields
// ok == false. [Unwrap] returns the reason instead.
//
// The package also implements encrypted channel messages (kind 9), where one
// event carries a separate payload per channel member.
package envelope
