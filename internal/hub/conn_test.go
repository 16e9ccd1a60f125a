package hub

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"
)

var errFakeConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames written by the test via send are
// returned from ReadMessage; frames written by the hub appear on out.
type fakeConn struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	reason error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-c.closed:
		return nil, errFakeConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errFakeConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) CloseWithReason(cause error) error {
	c.mu.Lock()
	if c.reason == nil {
		c.reason = cause
	}
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) send(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.in <- []byte(raw):
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out sending %s", raw)
	}
}

// hangUp simulates a clean close by the remote end.
func (c *fakeConn) hangUp() {
	close(c.in)
}

func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case b := <-c.out:
		return string(b)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return ""
	}
}

func (c *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case b := <-c.out:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}

type servedPeer struct {
	id   netip.AddrPort
	conn *fakeConn
	done chan error
}

func (p *servedPeer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to finish", p.id)
		return nil
	}
}

func serve(t *testing.T, ctx context.Context, h *Hub, addr, protocol string) *servedPeer {
	t.Helper()
	p := &servedPeer{
		id:   netip.MustParseAddrPort(addr),
		conn: newFakeConn(),
		done: make(chan error, 1),
	}
	go func() { p.done <- h.Serve(ctx, p.conn, p.id, protocol) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.Registry().Lookup(p.id); ok {
			return p
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer %s never registered", addr)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForLen(t *testing.T, r *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("registry len=%d, want %d", r.Len(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func netipMust(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }
