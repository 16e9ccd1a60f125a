// Package signaling accepts browser WebSocket connections and hands them to
// the relay hub.
//
// The WebSocket sub-protocol a client offers selects the group of peers it can
// talk to; a handshake without one is refused before upgrading.
package signaling
