// Package frame upgrades HTTP requests (or bare TCP sockets) into
// message-oriented connections. It ships two interchangeable
// implementations: a small hand-rolled codec for the handshake and the
// single-frame text subset of the protocol, and an adapter over
// github.com/gorilla/websocket. Everything above this package only sees Conn.
package frame

import (
	"io"
	"net/http"
	"time"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// Codec names, as accepted by configuration.
const (
	CodecGorilla = "gorilla"
	CodecRaw     = "raw"
)

// ErrFrameTooLarge is returned when a frame declares a payload longer than
// the configured maximum.
var ErrFrameTooLarge error = &apperr.Error{Kind: apperr.ErrProtocol, Msg: "frame exceeds maximum size"}

// ErrClosed is returned by ReadMessage after the peer sent a close frame.
var ErrClosed = io.EOF

// Conn is one upgraded client connection carrying whole text messages.
// ReadMessage must be called from a single goroutine; the write methods may
// be called concurrently with reads but not with each other.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	WritePing() error
	WriteClose() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	// SetPongHandler registers h to run when a pong arrives.
	SetPongHandler(h func() error)
	RemoteAddr() string
	Close() error
}

// Upgrader turns an HTTP upgrade request into a Conn. On failure it has
// already written an HTTP error response.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// NewUpgrader returns the upgrader for the named codec. Unknown names fall
// back to the gorilla adapter.
func NewUpgrader(codec string, maxSize int64, checkOrigin func(*http.Request) bool) Upgrader {
	if codec == CodecRaw {
		return NewRawUpgrader(maxSize, checkOrigin)
	}
	return NewGorillaUpgrader(maxSize, checkOrigin)
}
