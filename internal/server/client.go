// Package server manages individual socket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/frame"
	"github.com/Tyrowin/roomhub/internal/hub"
	"github.com/Tyrowin/roomhub/internal/metrics"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// client drives one upgraded connection. The read pump feeds frames to the
// router; the write pump is the only writer on the socket and drains the
// connection's outbound queue.
type client struct {
	srv         *Server
	conn        frame.Conn
	hc          *hub.Connection
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
	log         zerolog.Logger
}

func newClient(srv *Server, conn frame.Conn, hc *hub.Connection) *client {
	return &client{
		srv:         srv,
		conn:        conn,
		hc:          hc,
		rateLimiter: newRateLimiter(srv.cfg.RateLimit),
		rateLimit:   srv.cfg.RateLimit,
		log:         srv.log.With().Str("conn_id", hc.ID).Str("remote_addr", hc.RemoteAddr).Logger(),
	}
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func() error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *client) handleReadError(err error) {
	switch {
	case errors.Is(err, frame.ErrFrameTooLarge):
		c.log.Warn().Int64("max_bytes", c.srv.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case apperr.Is(err, apperr.ErrProtocol):
		c.log.Warn().Err(err).Msg("protocol violation; closing connection")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("client disconnected")
	default:
		c.log.Info().Err(err).Msg("socket read error")
	}
}

// checkRateLimit reports whether the frame may be processed. Discarded
// frames are answered with an error event.
func (c *client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}

	metrics.RateLimitHits.Inc()
	c.log.Debug().Int("burst", c.rateLimit.Burst).Dur("interval", c.rateLimit.RefillInterval).Msg("rate limit exceeded; discarding frame")
	c.srv.registry.SendEvent(c.hc.ID, event.Failure("rate limit exceeded"))
	return false
}

// readPump reads frames until the socket fails, then deregisters the
// connection. It also enforces the join grace period.
func (c *client) readPump(ctx context.Context) {
	grace := time.AfterFunc(c.srv.cfg.JoinGracePeriod, c.dropIfUnjoined)
	defer func() {
		grace.Stop()
		c.srv.registry.Deregister(c.hc.ID)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		// Failures are already reported to the sender by the router.
		_ = c.srv.router.HandleFrame(ctx, c.hc, data)
	}
}

// dropIfUnjoined closes a connection that never joined a room.
func (c *client) dropIfUnjoined() {
	if _, _, ok := c.srv.rooms.Membership(c.hc.ID); ok {
		return
	}
	c.log.Info().Dur("grace", c.srv.cfg.JoinGracePeriod).Msg("no join within grace period; closing connection")
	c.srv.registry.Deregister(c.hc.ID)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.hc.Outbound():
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, which also unblocks the read pump.
func (c *client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one queued payload, or a close frame once the queue
// has been closed by deregistration.
func (c *client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteClose(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing close frame")
		}
		return false
	}

	if err := c.conn.WriteMessage(message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping to keep the connection alive.
func (c *client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WritePing(); err != nil {
		c.log.Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
