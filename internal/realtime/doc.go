// Package realtime tracks live connections, chat room membership and user
// presence, and routes ephemeral chat events (typing state, read receipts,
// presence changes) between connections.
//
// The package has no transport of its own. A transport registers
// connections through Engine, feeds decoded inbound frames to it, and
// implements Deliverer so the Router can hand encoded frames back to the
// right connection. Engine mutations are expected to come from a single
// goroutine; the read side (Registry, Presence state) is safe for
// concurrent use.
package realtime
