// Package server exposes the relay's HTTP surface: the WebSocket handshake
// endpoint, liveness/readiness probes, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Kitiphol/TokTik/internal/auth"
	"github.com/Kitiphol/TokTik/internal/config"
	"github.com/Kitiphol/TokTik/internal/relay"
)

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	verifier    *auth.Verifier
	registry    *relay.Registry
	clock       clockwork.Clock
	redisClient *goredis.Client
	connRate    *ConnectionRateLimiter
	startTime   time.Time
}

func NewServer(cfg *config.Config, verifier *auth.Verifier, registry *relay.Registry, redisClient *goredis.Client, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		verifier:    verifier,
		registry:    registry,
		clock:       clock,
		redisClient: redisClient,
		connRate:    NewConnectionRateLimiter(cfg.ConnRatePerSecond, cfg.ConnBurst),
		startTime:   clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
