package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/message"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/origin"
)

// ErrHandshake is returned for upgrade requests that cannot become peers.
var ErrHandshake = errors.New("signaling: handshake failed")

const headerSecWebSocketProtocol = "Sec-WebSocket-Protocol"

// WebSocketServer upgrades HTTP requests to relay peer connections.
type WebSocketServer struct {
	cfg     config.Config
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	origins *origin.Policy

	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg config.Config, h *hub.Hub, m *metrics.Metrics, logger *slog.Logger) (*WebSocketServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	origins, err := origin.NewPolicy(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	return &WebSocketServer{
		cfg:     cfg,
		hub:     h,
		metrics: m,
		logger:  logger,
		origins: origins,
		upgrader: websocket.Upgrader{
			// Origin is checked before upgrading so the rejection is logged and
			// counted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.origins.Allows(r.Header.Get("Origin")) {
		s.metrics.Inc(metrics.EventOriginRejected)
		s.logger.Warn("ws_origin_rejected", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	protocol, id, err := negotiate(r)
	if err != nil {
		s.metrics.Inc(metrics.EventHandshakeFailure)
		s.logger.Warn("ws_handshake_failed", "remote", r.RemoteAddr, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// gorilla echoes the Sec-WebSocket-Protocol value from the response header
	// when Upgrader.Subprotocols is unset.
	respHeader := http.Header{}
	respHeader.Set(headerSecWebSocketProtocol, protocol)
	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.metrics.Inc(metrics.EventHandshakeFailure)
		s.logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newWSConn(conn, s.cfg.MaxMessageBytes, s.cfg.WSPingInterval, s.cfg.WSIdleTimeout)
	if err := s.hub.Serve(r.Context(), c, id, protocol); err != nil {
		s.logger.Debug("ws_peer_closed", "peer", id.String(), "err", err)
	}
}

// negotiate extracts the protocol tag and peer identity from an upgrade
// request. The first offered sub-protocol is the tag.
func negotiate(r *http.Request) (string, netip.AddrPort, error) {
	offered := websocket.Subprotocols(r)
	if len(offered) == 0 || strings.TrimSpace(offered[0]) == "" {
		return "", netip.AddrPort{}, fmt.Errorf("%w: missing %s header", ErrHandshake, headerSecWebSocketProtocol)
	}
	id, err := message.ParseAddr(r.RemoteAddr)
	if err != nil {
		return "", netip.AddrPort{}, fmt.Errorf("%w: unusable remote address %q: %v", ErrHandshake, r.RemoteAddr, err)
	}
	return offered[0], id, nil
}
