package signaling

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/message"
)

const wsWriteWait = 10 * time.Second

var (
	errBinaryFrame = fmt.Errorf("%w: expected text frame", message.ErrMalformed)
	errInvalidUTF8 = fmt.Errorf("%w: text frame is not valid utf-8", message.ErrMalformed)
)

// wsConn adapts a gorilla connection to hub.Conn.
//
// gorilla allows one concurrent reader and one concurrent writer; the hub
// provides exactly that. Control frames (ping, close) may be written from any
// goroutine.
type wsConn struct {
	conn         *websocket.Conn
	idleTimeout  time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn, maxMessageBytes int64, pingInterval, idleTimeout time.Duration) *wsConn {
	c := &wsConn{
		conn:         conn,
		idleTimeout:  idleTimeout,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
	if idleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idleTimeout))
		})
	}
	if pingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	if c.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	if typ != websocket.TextMessage {
		return nil, errBinaryFrame
	}
	// gorilla does not validate text frames.
	if !utf8.Valid(data) {
		return nil, errInvalidUTF8
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.CloseWithReason(nil)
}

// CloseWithReason sends a best-effort close frame describing cause and closes
// the underlying connection. Only the first call has any effect.
func (c *wsConn) CloseWithReason(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		code, reason := closeCodeFor(cause)
		writeClose(c.conn, code, reason)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func closeCodeFor(cause error) (int, string) {
	switch {
	case cause == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(cause, errBinaryFrame):
		return websocket.CloseUnsupportedData, "expected text message"
	case errors.Is(cause, errInvalidUTF8):
		return websocket.CloseInvalidFramePayloadData, "invalid utf-8"
	case errors.Is(cause, message.ErrMalformed):
		return websocket.ClosePolicyViolation, "malformed message"
	case errors.Is(cause, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig, "message too large"
	case errors.Is(cause, hub.ErrRateLimited):
		return websocket.ClosePolicyViolation, "rate limit exceeded"
	case errors.Is(cause, hub.ErrDuplicatePeer):
		return websocket.ClosePolicyViolation, "peer already connected"
	case errors.Is(cause, hub.ErrQueueFull):
		return websocket.CloseTryAgainLater, "outbound queue overflow"
	case isTimeout(cause):
		return websocket.CloseNormalClosure, "idle timeout"
	default:
		return websocket.CloseInternalServerErr, ""
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
