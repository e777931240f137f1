package frame

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// maxHeaderBytes bounds the raw handshake read on bare sockets.
const maxHeaderBytes = 8 << 10

// closeNormal is the close frame body for status 1000.
var closeNormal = []byte{0x03, 0xE8}

// RawUpgrader upgrades HTTP requests with the hand-rolled handshake and
// codec by hijacking the underlying connection.
type RawUpgrader struct {
	maxSize     int64
	checkOrigin func(*http.Request) bool
}

// NewRawUpgrader creates a RawUpgrader. A nil checkOrigin accepts all
// origins.
func NewRawUpgrader(maxSize int64, checkOrigin func(*http.Request) bool) *RawUpgrader {
	return &RawUpgrader{maxSize: maxSize, checkOrigin: checkOrigin}
}

// Upgrade validates the request, writes the 101 response and returns the
// upgraded connection.
func (u *RawUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, apperr.Protocol("upgrade requires GET")
	}
	if !headerHasToken(r.Header, "Connection", "upgrade") || !headerHasToken(r.Header, "Upgrade", "websocket") {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, apperr.Protocol("missing upgrade headers")
	}
	if u.checkOrigin != nil && !u.checkOrigin(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, apperr.Protocol("origin not allowed")
	}

	resp, err := handshakeResponse(r.Header)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, errors.New("frame: response writer does not support hijacking")
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	// Clear deadlines inherited from the HTTP server.
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	if _, err := netConn.Write(resp); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	return newRawConn(netConn, brw.Reader, u.maxSize), nil
}

// AcceptRaw performs the handshake on a bare TCP socket: it reads the raw
// request header block, answers it and returns the upgraded connection. A
// failed handshake is answered with 400 and the socket is closed.
func AcceptRaw(conn net.Conn, maxSize int64, timeout time.Duration) (Conn, error) {
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	br := bufio.NewReaderSize(conn, maxHeaderBytes)
	raw, err := readHeaderBlock(br)
	if err == nil {
		var resp []byte
		resp, err = PerformHandshake(raw)
		if err == nil {
			_, err = conn.Write(resp)
		}
	}
	if err != nil {
		if apperr.Is(err, apperr.ErrProtocol) {
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n"))
		}
		_ = conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newRawConn(conn, br, maxSize), nil
}

// readHeaderBlock reads up to the blank line ending the request header. No
// single line may outgrow br's buffer, so a peer that never sends a newline
// costs at most one buffer.
func readHeaderBlock(br *bufio.Reader) ([]byte, error) {
	var sb strings.Builder
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, apperr.Protocol("handshake header too large")
		}
		if err != nil {
			return nil, err
		}
		sb.Write(line)
		if sb.Len() > maxHeaderBytes {
			return nil, apperr.Protocol("handshake header too large")
		}
		if s := string(line); s == "\r\n" || s == "\n" {
			return []byte(sb.String()), nil
		}
	}
}

type rawConn struct {
	conn    net.Conn
	br      *bufio.Reader
	maxSize int64

	writeMu sync.Mutex
	pong    func() error
}

func newRawConn(conn net.Conn, br *bufio.Reader, maxSize int64) *rawConn {
	return &rawConn{conn: conn, br: br, maxSize: maxSize}
}

// ReadMessage returns the next text payload, answering pings and close
// frames along the way.
func (c *rawConn) ReadMessage() ([]byte, error) {
	for {
		f, err := ReadFrame(c.br, c.maxSize)
		if err != nil {
			return nil, err
		}

		switch f.Opcode {
		case OpText:
			return f.Payload, nil
		case OpBinary:
			return nil, apperr.Protocol("binary frames are not supported")
		case OpPing:
			if err := c.writeFrame(OpPong, f.Payload); err != nil {
				return nil, err
			}
		case OpPong:
			if c.pong != nil {
				if err := c.pong(); err != nil {
					return nil, err
				}
			}
		case OpClose:
			_ = c.writeFrame(OpClose, closeNormal)
			return nil, ErrClosed
		}
	}
}

func (c *rawConn) writeFrame(op Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write(encode(op, payload, nil))
	return err
}

func (c *rawConn) WriteMessage(payload []byte) error { return c.writeFrame(OpText, payload) }
func (c *rawConn) WritePing() error                  { return c.writeFrame(OpPing, nil) }
func (c *rawConn) WriteClose() error                 { return c.writeFrame(OpClose, closeNormal) }

func (c *rawConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *rawConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *rawConn) SetPongHandler(h func() error)      { c.pong = h }
func (c *rawConn) RemoteAddr() string                 { return c.conn.RemoteAddr().String() }

func (c *rawConn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

var _ Conn = (*rawConn)(nil)
