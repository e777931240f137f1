package frame

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// GorillaUpgrader adapts github.com/gorilla/websocket to Upgrader.
type GorillaUpgrader struct {
	upgrader websocket.Upgrader
	maxSize  int64
}

// NewGorillaUpgrader creates a GorillaUpgrader. A nil checkOrigin uses
// gorilla's same-host default.
func NewGorillaUpgrader(maxSize int64, checkOrigin func(*http.Request) bool) *GorillaUpgrader {
	return &GorillaUpgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		maxSize: maxSize,
	}
}

// Upgrade upgrades the request; gorilla writes the error response itself.
func (u *GorillaUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if u.maxSize > 0 {
		conn.SetReadLimit(u.maxSize)
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	messageType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, translateGorillaError(err)
	}
	if messageType != websocket.TextMessage {
		return nil, apperr.Protocol("binary frames are not supported")
	}
	return payload, nil
}

func translateGorillaError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrFrameTooLarge
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return ErrClosed
	}
	return err
}

func (c *gorillaConn) WriteMessage(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *gorillaConn) WritePing() error {
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *gorillaConn) WriteClose() error {
	return c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *gorillaConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *gorillaConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *gorillaConn) RemoteAddr() string                 { return c.conn.RemoteAddr().String() }
func (c *gorillaConn) Close() error                       { return c.conn.Close() }

func (c *gorillaConn) SetPongHandler(h func() error) {
	c.conn.SetPongHandler(func(string) error { return h() })
}

var _ Conn = (*gorillaConn)(nil)
