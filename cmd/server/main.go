package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomhub/internal/moderation"
	"github.com/Tyrowin/roomhub/internal/server"
	"github.com/Tyrowin/roomhub/internal/store"
)

func main() {
	cfg := server.NewConfigFromEnv()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("store connection failed")
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("store ready")

	var sanctions moderation.Sanctions = moderation.NewMemorySanctions()
	if cfg.RedisURL != "" {
		rs, err := moderation.NewRedisSanctions(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rs.Close()
		sanctions = rs
		logger.Info().Msg("connected to Redis")
	}

	srv := server.New(*cfg, st, sanctions, logger)
	httpServer := server.CreateServer(srv.Config().Port, srv.Routes())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})

	if cfg.RawSocketAddr != "" {
		ln, err := net.Listen("tcp", cfg.RawSocketAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RawSocketAddr).Msg("raw socket listener failed")
		}
		g.Go(func() error {
			return srv.ServeRaw(gctx, ln)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
		if herr := srv.Shutdown(cfg.ShutdownTimeout); err == nil {
			err = herr
		}
		return err
	})

	logger.Info().
		Str("port", srv.Config().Port).
		Str("env", cfg.Env).
		Str("codec", srv.Config().FrameCodec).
		Msg("starting roomhub server")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
