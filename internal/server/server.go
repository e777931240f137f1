// Package server owns the running service: it wires the hub, router,
// moderation and polling components together and drives one read pump and
// one write pump per socket connection.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/auth"
	"github.com/Tyrowin/roomhub/internal/frame"
	"github.com/Tyrowin/roomhub/internal/hub"
	"github.com/Tyrowin/roomhub/internal/moderation"
	"github.com/Tyrowin/roomhub/internal/polling"
	"github.com/Tyrowin/roomhub/internal/router"
	"github.com/Tyrowin/roomhub/internal/store"
)

// handshakeTimeout bounds the raw listener's handshake read.
const handshakeTimeout = 10 * time.Second

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds every long-lived component of the service.
type Server struct {
	cfg Config
	log zerolog.Logger

	store     *store.Store
	sanctions moderation.Sanctions
	registry  *hub.Registry
	rooms     *hub.Rooms
	authority *moderation.Authority
	router    *router.Router
	adapter   *polling.Adapter
	verifier  *auth.Verifier
	origins   *originPolicy
	upgrader  frame.Upgrader

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New assembles a Server around an opened store and sanctions backend.
func New(cfg Config, st *store.Store, sanctions moderation.Sanctions, log zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	log = log.With().Str("component", "server").Logger()

	registry := hub.NewRegistry(log)
	rooms := hub.NewRooms(registry, log)
	authority := moderation.NewAuthority(rooms, st, sanctions, log)
	rt := router.New(registry, rooms, st, authority, log)
	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		sanctions: sanctions,
		registry:  registry,
		rooms:     rooms,
		authority: authority,
		router:    rt,
		adapter:   polling.NewAdapter(st, rt, cfg.PollDefaultLimit, cfg.PollMaxLimit, log),
		verifier:  auth.NewVerifier(cfg.AuthJWTSecret),
		origins:   origins,
		upgrader:  frame.NewUpgrader(cfg.FrameCodec, cfg.MaxMessageSize, origins.check),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry exposes the connection registry.
func (s *Server) Registry() *hub.Registry {
	return s.registry
}

// Rooms exposes the room manager.
func (s *Server) Rooms() *hub.Rooms {
	return s.rooms
}

// serve registers an upgraded connection and starts its pumps. It returns
// immediately.
func (s *Server) serve(conn frame.Conn) {
	if s.ctx.Err() != nil {
		_ = conn.WriteClose()
		_ = conn.Close()
		return
	}

	hc := s.registry.Register(conn.RemoteAddr())
	c := newClient(s, conn, hc)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx)
	}()
}

// ServeRaw accepts bare TCP sockets on ln and upgrades them with the
// hand-rolled handshake until ctx is cancelled or ln fails.
func (s *Server) ServeRaw(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("raw socket listener started")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		go func() {
			conn, err := frame.AcceptRaw(nc, s.cfg.MaxMessageSize, handshakeTimeout)
			if err != nil {
				s.log.Debug().Err(err).Str("remote_addr", nc.RemoteAddr().String()).Msg("raw handshake failed")
				return
			}
			s.serve(conn)
		}()
	}
}

// Shutdown closes every connection and waits for the pumps to finish, or
// until timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info().Msg("initiating hub shutdown")

	s.shutdown.Do(func() {
		s.cancel()
		s.registry.CloseAll()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn().Dur("timeout", timeout).Msg("hub shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}

// pingers lists the dependencies the health endpoint checks.
func (s *Server) pingers() map[string]Pinger {
	checks := map[string]Pinger{"store": s.store}
	if p, ok := s.sanctions.(Pinger); ok {
		checks["sanctions"] = p
	}
	return checks
}
