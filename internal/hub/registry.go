package hub

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/metrics"
)

// PeerEntry is a registered peer as seen by the router.
type PeerEntry struct {
	ID       netip.AddrPort
	Protocol string
	Queue    *Queue
}

type RegistryOptions struct {
	// MaxQueuedMessages bounds each peer's outbound queue. Zero means
	// unbounded.
	MaxQueuedMessages int
	Metrics           *metrics.Metrics
}

// Registry is the set of connected peers.
//
// The lock is held only for map operations; queue pushes and socket I/O
// happen outside it.
type Registry struct {
	opts RegistryOptions

	mu    sync.Mutex
	peers map[netip.AddrPort]PeerEntry
}

func NewRegistry() *Registry {
	return NewRegistryWithOptions(RegistryOptions{})
}

func NewRegistryWithOptions(opts RegistryOptions) *Registry {
	return &Registry{
		opts:  opts,
		peers: make(map[netip.AddrPort]PeerEntry),
	}
}

// Register adds a peer and returns its outbound queue.
func (r *Registry) Register(id netip.AddrPort, protocol string) (*Queue, error) {
	r.mu.Lock()
	if _, ok := r.peers[id]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicatePeer
	}
	q := newQueue(r.opts.MaxQueuedMessages, r.opts.Metrics.AddQueued)
	r.peers[id] = PeerEntry{ID: id, Protocol: protocol, Queue: q}
	n := len(r.peers)
	r.mu.Unlock()

	r.opts.Metrics.SetPeers(n)
	return q, nil
}

// Deregister removes a peer and closes its queue. Removing an absent peer is
// a no-op.
func (r *Registry) Deregister(id netip.AddrPort) {
	r.mu.Lock()
	entry, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	n := len(r.peers)
	r.mu.Unlock()

	if !ok {
		return
	}
	entry.Queue.Close()
	r.opts.Metrics.SetPeers(n)
}

// Snapshot returns the registered peers ordered by address.
func (r *Registry) Snapshot() []PeerEntry {
	r.mu.Lock()
	out := make([]PeerEntry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b PeerEntry) int { return a.ID.Compare(b.ID) })
	return out
}

func (r *Registry) Lookup(id netip.AddrPort) (PeerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
