// Package api serves the relay's admin HTTP surface: health, a session listing
// and Prometheus metrics. It runs on its own listener, separate from the
// WebSocket endpoint browsers connect to.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/logging"
	"github.com/faultsys/alertrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// SessionSource is the view of the relay the admin API reads from.
type SessionSource interface {
	Sessions() []relay.SessionInfo
	SessionCount() int
}

// Server is the admin HTTP server.
type Server struct {
	engine  *gin.Engine
	handler *Handler
	addr    string

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	serveDone chan struct{}
	serveErr  error
}

// NewServer builds the admin server for addr. Nothing is bound until Start.
func NewServer(addr string, sessions SessionSource) *Server {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	h := NewHandler(sessions)
	s := &Server{engine: engine, handler: h, addr: addr}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handler.Health)
	s.engine.GET("/metrics", skipLogging, gin.WrapH(promhttp.Handler()))

	v0 := s.engine.Group("/v0")
	{
		v0.GET("/sessions", s.handler.ListSessions)
		v0.GET("/sessions/:id", s.handler.GetSession)
	}
}

func skipLogging(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.Next()
}

// Handler exposes the gin engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the admin address and serves in the background. Bind failures are
// reported as *relay.BindError.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return &relay.BindError{Addr: s.addr, Err: err}
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.serveDone = make(chan struct{})
	done := s.serveDone
	s.mu.Unlock()

	log.Infof("admin server listening on %s", ln.Addr())
	go func() {
		defer close(done)
		if errServe := server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("admin server failed on %s: %v", s.addr, errServe)
			s.mu.Lock()
			s.serveErr = errServe
			s.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until the serve loop exits and returns its error, nil after Shutdown.
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.serveDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the admin server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(stopCtx); err != nil {
		log.Errorf("failed to stop admin server on %s: %v", s.addr, err)
		_ = server.Close()
		return err
	}
	log.Info("admin server stopped")
	return nil
}
