package debugsrv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/engine"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/store"
)

// Engine is the part of *engine.Engine the server reads.
type Engine interface {
	Frame() int64
	Instances() []*engine.Instance
	Dispatcher() *events.Dispatcher
	DeferredStats() []bridge.Stats
	RequestKill(kind handle.Kind, reason string)
}

// FaultLog lists recorded faults. Implemented by *store.Store.
type FaultLog interface {
	FindFaults(ctx context.Context, p store.Predicate) ([]store.Fault, error)
}

// Options configure a Server. Settings and Faults are optional; their
// routes answer 404 without them.
type Options struct {
	Engine   Engine
	Settings *config.Settings
	Faults   FaultLog
	Logger   *slog.Logger
}

// Server is the introspection HTTP server.
type Server struct {
	engine   Engine
	settings *config.Settings
	faults   FaultLog
	log      *slog.Logger
	echo     *echo.Echo
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		engine:   opts.Engine,
		settings: opts.Settings,
		faults:   opts.Faults,
		log:      opts.Logger.With("component", "debugsrv"),
		echo:     echo.New(),
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	RegisterRoutes(s.echo, s)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("debug server listening", "addr", addr)
		errc <- s.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
