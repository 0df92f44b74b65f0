// Package sealchat implements the client-side core of a private messaging
// application: plaintext user intent becomes per-device encrypted
// envelopes, a locally reconciled chronological timeline is fed by
// paginated history fetches and a live push transport at the same time,
// and delivery/seen status is tracked per message per viewer.
//
// A Session owns the collaborators for one authenticated login: the
// persistent device identity, the envelope codec, the shared real-time
// transport, the history client and an optional local message cache.
// Conversations are opened from the session; each Conversation exclusively
// owns its timeline and typing state and detaches cleanly on Leave.
//
// Example:
//
//	opts := sealchat.NewOptions()
//	opts.DataDir = "/home/me/.sealchat"
//	opts.LocalUserID = "alice"
//
//	session, err := sealchat.New(opts, sealchat.Deps{
//	    KeyDirectory: directory,
//	    Chats:        chats,
//	    Token:        tokens.Current,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	conv, err := session.Open(ctx, "chat-42")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conv.OnTimelineChanged(func(msgs []timeline.Message, receipts map[string][]timeline.SeenReceipt) {
//	    render(msgs, receipts)
//	})
//	conv.LoadOlder(ctx)
package sealchat
