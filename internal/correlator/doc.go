// Package correlator matches unordered, possibly missing datagram replies to
// outstanding requests.
//
// Each request is stamped with a correlation token (the header sequence
// number) under a per-correlator source id. A single dispatch loop (Run)
// reads every inbound datagram and resolves the pending request holding the
// same token. Anything that matches nothing is a stray and is dropped:
// duplicates, replies to other clients, and replies that arrive after their
// request timed out.
//
// # Token Lifecycle
//
// Tokens come from a wrapping 8-bit counter. A token is live from the moment
// a request is sent until it resolves or expires. An expired token is then
// quarantined for a linger period before it can be handed out again, so a
// late reply cannot resolve a newer request that reused the token value. As
// a second guard, a reply resolves a request only if it comes from the device
// the request targeted.
//
// # Usage Example
//
//	c := correlator.New(tr)
//	go c.Run(ctx)
//
//	reply, err := c.Request(ctx, addr, id, protocol.GetLabel{}, time.Second)
//	switch {
//	case lanerr.IsTimeout(err):
//	    // retry or give up
//	case lanerr.IsProtocolMismatch(err):
//	    // device answered with the wrong message shape
//	}
//
// Fan-in exchanges such as broadcast discovery use Stream, which holds one
// token and forwards every matching reply instead of resolving once.
//
// # Thread Safety
//
// Request and Stream may be called from any number of goroutines. Run must
// be called exactly once.
package correlator
