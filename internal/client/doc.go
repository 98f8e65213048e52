// Package client models one simulated user of the hub.
//
// A [VirtualClient] moves between three states:
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//
// Entry into Connecting is guarded by a compare-and-swap, so concurrent
// Connect or Reconnect calls on the same client collapse into one attempt.
// Transport callbacks (handshake, close, reply) arrive on arbitrary
// goroutines; each carries the generation of the transport it was bound to,
// and callbacks from a replaced transport are ignored.
//
// Replies carry no correlation id. The latency of a reply is the difference
// between its receive time and the creation time it echoes back, so replies
// that arrive out of order are still attributed correctly, but a reply that
// the hub delivers to a different session would be counted there.
package client
