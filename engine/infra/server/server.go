package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/compozy/tasktree/engine/infra/monitoring"
	"github.com/compozy/tasktree/engine/infra/server/appstate"
	"github.com/compozy/tasktree/engine/infra/server/routes"
	runrouter "github.com/compozy/tasktree/engine/runner/router"
	"github.com/compozy/tasktree/pkg/config"
	"github.com/compozy/tasktree/pkg/logger"
	"github.com/compozy/tasktree/pkg/version"
	"github.com/gin-gonic/gin"
)

const (
	httpReadTimeout       = 15 * time.Second
	httpWriteTimeout      = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
	hostAny               = "0.0.0.0"
	hostLoopback          = "127.0.0.1"
)

// Server exposes the workflow API over HTTP.
type Server struct {
	config     *config.ServerConfig
	state      *appstate.State
	monitoring *monitoring.Service
	router     *gin.Engine
}

func New(ctx context.Context, cfg *config.ServerConfig, state *appstate.State, mon *monitoring.Service) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if state == nil {
		return nil, fmt.Errorf("app state is required")
	}
	s := &Server{config: cfg, state: state, monitoring: mon}
	s.router = s.buildRouter(ctx)
	return s, nil
}

func (s *Server) buildRouter(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		r.Use(s.monitoring.GinMiddleware(ctx))
		r.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.ExporterHandler()))
	}
	r.Use(LoggerMiddleware(logger.FromContext(ctx)))
	r.Use(appstate.StateMiddleware(s.state))
	r.GET(routes.Healthz(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get().Version})
	})
	runrouter.Register(r.Group(routes.Base()))
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.FromContext(ctx)
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("Server started", "url", fmt.Sprintf("http://%s%s", friendlyAddr(ln.Addr()), routes.Base()))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = serverShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	log.Info("Shutting down server", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func friendlyAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if host == hostAny || host == "::" || host == "" {
		host = hostLoopback
	}
	return net.JoinHostPort(host, port)
}
