package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.Inc(EventPeerConnected)
	m.Add(EventMessageDelivered, 2)
	m.SetPeers(3)
	m.AddQueued(5)
	m.AddQueued(-4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE aero_ws_peer_relay_events_total counter",
		`aero_ws_peer_relay_events_total{event="peer_connected"} 1`,
		`aero_ws_peer_relay_events_total{event="message_delivered"} 2`,
		"aero_ws_peer_relay_peers 3",
		"aero_ws_peer_relay_queued_messages 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestGetMatchesCounter(t *testing.T) {
	m := New()
	m.Inc(EventQueueOverflow)
	m.Inc(EventQueueOverflow)

	if got := m.Get(EventQueueOverflow); got != 2 {
		t.Fatalf("Get=%d, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(EventQueueOverflow)); got != 2 {
		t.Fatalf("counter=%v, want 2", got)
	}
	if got := m.Get(EventRateLimited); got != 0 {
		t.Fatalf("Get(unused)=%d, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(EventPeerConnected)
	m.SetPeers(1)
	m.AddQueued(1)
	if got := m.Get(EventPeerConnected); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
