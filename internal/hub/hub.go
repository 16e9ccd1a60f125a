package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"runtime/debug"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/message"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/metrics"
)

// Conn is the message-oriented transport a peer is served over.
//
// ReadMessage is only called from one goroutine and WriteMessage from
// another. Close may be called concurrently with both and must unblock them.
// ReadMessage returns io.EOF when the remote end closed cleanly.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// ReasonCloser is implemented by transports that can report why a connection
// is being torn down (e.g. as a WebSocket close frame). cause is nil for a
// clean shutdown.
type ReasonCloser interface {
	CloseWithReason(cause error) error
}

type Options struct {
	// MaxMessagesPerSecond limits inbound frames per peer. Zero disables the
	// limit.
	MaxMessagesPerSecond int
}

type Hub struct {
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
}

func New(registry *Registry, m *metrics.Metrics, logger *slog.Logger, opts Options) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		router:   &Router{Registry: registry, Metrics: m, Logger: logger},
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Serve runs one peer connection to completion.
//
// The peer is registered and announced with an arrival presence message, then
// an inbound and an outbound pump run until either of them stops. The first
// to stop cancels the other. The peer is then announced with a departure
// presence message and deregistered exactly once. conn is always closed on
// return.
//
// The returned error describes why the connection ended; it is nil for a
// clean close by either side.
func (h *Hub) Serve(ctx context.Context, conn Conn, id netip.AddrPort, protocol string) (err error) {
	log := h.logger.With("peer", id.String(), "protocol", protocol, "conn_id", uuid.NewString())

	queue, err := h.registry.Register(id, protocol)
	if err != nil {
		h.metrics.Inc(metrics.EventDuplicatePeer)
		log.Warn("peer_register_failed", "err", err)
		closeConn(conn, err)
		return fmt.Errorf("register %s: %w", id, err)
	}
	h.metrics.Inc(metrics.EventPeerConnected)
	log.Info("peer_connected")

	defer func() {
		if rec := recover(); rec != nil {
			h.metrics.Inc(metrics.EventPanicRecovered)
			log.Error("panic serving peer", "recover", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic serving peer: %v", rec)
		}
		h.depart(log, id, protocol)
		closeConn(conn, err)
		h.metrics.Inc(metrics.EventPeerDisconnected)
		if err != nil {
			log.Info("peer_disconnected", "err", err)
		} else {
			log.Info("peer_disconnected")
		}
	}()

	h.announce(log, message.Presence(message.PresenceArrival), id, protocol)

	var limiter *rate.Limiter
	if n := h.opts.MaxMessagesPerSecond; n > 0 {
		limiter = rate.NewLimiter(rate.Limit(n), n)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(guard(log, h.metrics, cancel, func() error {
		return h.inboundPump(ctx, conn, limiter, id, protocol)
	}))
	g.Go(guard(log, h.metrics, cancel, func() error {
		return outboundPump(ctx, conn, queue)
	}))
	g.Go(func() error {
		// Unblocks both pumps once either stops, the queue is closed from
		// outside (overflow), or the server shuts down.
		var cause error
		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
		case <-queue.Done():
			cause = queue.Err()
			cancel(cause)
		}
		queue.Close()
		if errors.Is(cause, context.Canceled) || errors.Is(cause, ErrQueueClosed) {
			cause = nil
		}
		closeConn(conn, cause)
		return cause
	})
	return g.Wait()
}

func (h *Hub) inboundPump(ctx context.Context, conn Conn, limiter *rate.Limiter, id netip.AddrPort, protocol string) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, message.ErrMalformed) {
				h.metrics.Inc(metrics.EventMalformedMessage)
			}
			return fmt.Errorf("read: %w", err)
		}
		if limiter != nil && !limiter.Allow() {
			h.metrics.Inc(metrics.EventRateLimited)
			return ErrRateLimited
		}
		if message.IsBlank(data) {
			continue
		}

		in, err := message.Parse(data)
		if err != nil {
			h.metrics.Inc(metrics.EventMalformedMessage)
			return err
		}
		if _, err := h.router.Route(in, id, protocol); err != nil {
			return err
		}
	}
}

func outboundPump(ctx context.Context, conn Conn, queue *Queue) error {
	for {
		frame, err := queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := conn.WriteMessage(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (h *Hub) announce(log *slog.Logger, in message.Inbound, id netip.AddrPort, protocol string) {
	if _, err := h.router.Route(in, id, protocol); err != nil {
		log.Error("presence_route_failed", "err", err)
	}
}

// depart announces the peer's departure and removes it. A panic while routing
// must not leave the registry entry behind.
func (h *Hub) depart(log *slog.Logger, id netip.AddrPort, protocol string) {
	defer h.registry.Deregister(id)
	defer func() {
		if rec := recover(); rec != nil {
			h.metrics.Inc(metrics.EventPanicRecovered)
			log.Error("panic announcing departure", "recover", rec, "stack", string(debug.Stack()))
		}
	}()
	h.announce(log, message.Presence(message.PresenceDeparture), id, protocol)
}

// guard turns a pump into an errgroup task that always cancels its siblings
// on return and converts panics into errors.
func guard(log *slog.Logger, m *metrics.Metrics, cancel context.CancelCauseFunc, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				m.Inc(metrics.EventPanicRecovered)
				log.Error("panic in peer pump", "recover", rec, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic in peer pump: %v", rec)
			}
			cancel(err)
		}()
		return fn()
	}
}

func closeConn(conn Conn, cause error) {
	if rc, ok := conn.(ReasonCloser); ok {
		_ = rc.CloseWithReason(cause)
		return
	}
	_ = conn.Close()
}
