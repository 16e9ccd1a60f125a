package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/message"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/metrics"
)

// RouteResult summarizes one Route call.
type RouteResult struct {
	// Recipients is the number of queues the frame was pushed to.
	Recipients int
	// Dropped counts matching recipients whose queue was closed or full.
	Dropped int
}

type Router struct {
	Registry *Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Route delivers in, sent by sender, to every other peer in the same protocol
// group. Encrypted messages go only to the peer they address, and only when
// that peer shares the sender's protocol.
//
// The frame is encoded once and pushed to recipients in snapshot order. A
// recipient whose queue is full is disconnected rather than silently skipped.
func (r *Router) Route(in message.Inbound, sender netip.AddrPort, protocol string) (RouteResult, error) {
	frame, err := message.Encode(message.DeriveOutbound(in, sender))
	if err != nil {
		return RouteResult{}, fmt.Errorf("encode %s: %w", in.Kind, err)
	}
	target, directed := message.Target(in)

	var res RouteResult
	for _, peer := range r.Registry.Snapshot() {
		if peer.ID == sender || peer.Protocol != protocol {
			continue
		}
		if directed && peer.ID != target {
			continue
		}

		err := peer.Queue.Push(frame)
		switch {
		case err == nil:
			res.Recipients++
		case errors.Is(err, ErrQueueFull):
			res.Dropped++
			r.Metrics.Inc(metrics.EventQueueOverflow)
			r.logger().Warn("peer_queue_overflow",
				"peer", peer.ID.String(),
				"protocol", peer.Protocol,
				"sender", sender.String(),
			)
			peer.Queue.closeWithError(ErrQueueFull)
		default:
			// The recipient is mid-teardown.
			res.Dropped++
			r.Metrics.Inc(metrics.EventDeliveryFailure)
		}
	}

	r.Metrics.Inc(metrics.EventMessageRouted)
	r.Metrics.Add(metrics.EventMessageDelivered, uint64(res.Recipients))
	return res, nil
}

func (r *Router) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
