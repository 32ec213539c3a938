// Package api exposes the engine over HTTP: device listing, battery and
// model info, typed config get/set, a websocket event feed and metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/earlink/internal/engine"
	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/observability"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Engine is the part of *engine.Engine the API depends on.
type Engine interface {
	protocol.Requester
	Devices() []engine.DeviceInfo
	Status(id string) engine.Status
	Subscribe(buffer int) *engine.Subscription
	Disconnect(id string) error
}

var _ Engine = (*engine.Engine)(nil)

type Config struct {
	Addr        string
	CORSOrigins []string
	// EventBuffer is the per-websocket subscription depth.
	EventBuffer int
	// RequestTimeout bounds each device call made on behalf of a handler.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8420",
		EventBuffer:    64,
		RequestTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}

type Server struct {
	cfg      Config
	engine   Engine
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

func New(eng Engine, cfg Config) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	log := logging.Component("api")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		engine:   eng,
		router:   r,
		log:      log,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("api: listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("api: shutdown")
		_ = srv.Close()
	}
	return nil
}

// ListenAndServe binds cfg.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
