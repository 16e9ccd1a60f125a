package hub

import "errors"

var (
	// ErrDuplicatePeer is returned by Register when a peer with the same
	// address is already connected.
	ErrDuplicatePeer = errors.New("hub: peer already registered")
	ErrQueueClosed   = errors.New("hub: queue closed")
	ErrQueueFull     = errors.New("hub: queue full")
	ErrRateLimited   = errors.New("hub: inbound message rate exceeded")
)
