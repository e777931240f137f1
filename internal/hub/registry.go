// Package hub tracks live connections and room membership. The Registry is
// the single source of truth for who is reachable; Rooms groups registered
// connections and fans payloads out to them.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/metrics"
)

// DefaultQueueSize is the outbound queue length of a connection.
const DefaultQueueSize = 256

// Connection is one registered client. Its outbound queue is drained by the
// transport's write pump and closed when the connection is deregistered.
type Connection struct {
	ID         string
	RemoteAddr string

	send   chan []byte
	closed bool // guarded by Registry.mu
}

// Outbound returns the queue the write pump drains. It is closed on
// deregistration.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Registry tracks every live connection.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	queueSize int
	hooks     []func(*Connection)
	log       zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		queueSize: DefaultQueueSize,
		log:       log.With().Str("component", "registry").Logger(),
	}
}

// OnDeregister adds a hook run exactly once per deregistered connection,
// after it has been removed. Hooks must be added before connections are
// registered.
func (r *Registry) OnDeregister(fn func(*Connection)) {
	r.hooks = append(r.hooks, fn)
}

// Register admits a new connection with no room and no identity.
func (r *Registry) Register(remoteAddr string) *Connection {
	c := &Connection{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		send:       make(chan []byte, r.queueSize),
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	count := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(count))
	r.log.Debug().Str("conn_id", c.ID).Str("remote_addr", remoteAddr).Int("total", count).Msg("connection registered")
	return c
}

// Deregister removes the connection and closes its queue. It reports
// whether this call removed it; later calls for the same id are no-ops.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	c.closed = true
	close(c.send)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(count))
	r.log.Debug().Str("conn_id", id).Int("total", count).Msg("connection deregistered")

	for _, hook := range r.hooks {
		hook(c)
	}
	return true
}

// Send enqueues payload without blocking. An unknown or closed connection,
// or a full queue, returns false; a full queue also deregisters the
// connection in the background so one slow peer never stalls a broadcast.
func (r *Registry) Send(id string, payload []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	if !ok || c.closed {
		r.mu.RUnlock()
		metrics.FramesDropped.Inc()
		return false
	}

	select {
	case c.send <- payload:
		r.mu.RUnlock()
		return true
	default:
		r.mu.RUnlock()
	}

	metrics.FramesDropped.Inc()
	r.log.Warn().Str("conn_id", id).Str("remote_addr", c.RemoteAddr).Msg("send queue full; dropping connection")
	r.Drop(id)
	return false
}

// Drop deregisters id in the background. Events already queued are still
// written before the transport closes the socket. Unlike Deregister it may
// be called from inside a room's Sequence.
func (r *Registry) Drop(id string) {
	go r.Deregister(id)
}

// Get looks up a registered connection.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// CloseAll deregisters every connection, running the hooks for each.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Deregister(id)
	}
	r.log.Info().Int("closed", len(ids)).Msg("closed all connections")
}
