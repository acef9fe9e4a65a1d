// Package relay accepts WebSocket clients and gives each of them the alert
// stream read from the upstream TCP source, one text message per line.
//
// In the default per-session mode every client gets its own upstream
// connection, and the two live and die together. In shared mode a single
// upstream connection is fanned out to all clients through a hub.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/config"
	"github.com/faultsys/alertrelay/internal/metrics"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPath         = "/"
	defaultSendQueue    = 64
	defaultWriteTimeout = 10 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

// Options configures a Server instance.
type Options struct {
	// Addr is the TCP address Start listens on.
	Addr string
	// Path is the HTTP path that accepts upgrades. Other paths answer 404.
	Path string
	// UpstreamAddr is the host:port of the alert source.
	UpstreamAddr string
	// Mode is config.ModePerSession or config.ModeShared.
	Mode string

	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	MaxLineBytes      int
	SendQueue         int

	// Limits bounds inbound connections; nil accepts everything.
	Limits *Limits

	OnConnected    func(SessionInfo)
	OnDisconnected func(SessionInfo, error)
}

// OptionsFromConfig maps a validated configuration to server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:              cfg.ListenAddr(),
		Path:              cfg.Server.Path,
		UpstreamAddr:      cfg.UpstreamAddr(),
		Mode:              cfg.Upstream.Mode,
		DialTimeout:       cfg.Upstream.DialTimeout,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		WriteTimeout:      cfg.Session.WriteTimeout,
		MaxLineBytes:      cfg.Upstream.MaxLineBytes,
		SendQueue:         cfg.Session.SendQueue,
		Limits: NewLimits(
			cfg.Limits.MaxSessions,
			cfg.Limits.MaxPerIP,
			cfg.Limits.AcceptRate,
			cfg.Limits.AcceptBurst,
			nil,
		),
	}
}

// Server is the relay: a WebSocket endpoint plus the set of live sessions.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	limits   *Limits
	hub      *hub

	sessMutex sync.RWMutex
	sessions  map[string]*session
	closing   bool
	wg        sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	httpServer   *http.Server
	listener     net.Listener
	serveDone    chan struct{}
	serveErr     error
	shutdownOnce sync.Once
}

// NewServer builds a relay server with the supplied options.
func NewServer(opts Options) *Server {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	opts.Path = path
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = config.DefaultMaxLineBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		opts:     opts,
		limits:   opts.Limits,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	if opts.Mode == config.ModeShared {
		srv.hub = newHub(ctx, opts.UpstreamAddr, opts.DialTimeout, opts.MaxLineBytes)
	}
	return srv
}

// Path returns the HTTP path the server expects for websocket upgrades.
func (s *Server) Path() string {
	return s.opts.Path
}

// Handler exposes an http.Handler that upgrades connections to relay sessions.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebsocket)
}

// Start binds the listen address and serves in the background. A bind failure
// is returned as *BindError; nothing is left running in that case.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return &BindError{Addr: s.opts.Addr, Err: err}
	}

	s.sessMutex.Lock()
	if s.closing {
		s.sessMutex.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.serveDone = make(chan struct{})
	httpServer := s.httpServer
	s.sessMutex.Unlock()

	log.WithFields(log.Fields{
		"upstream": s.opts.UpstreamAddr,
		"mode":     s.mode(),
	}).Infof("relay listening on %s%s", ln.Addr(), s.opts.Path)

	go func() {
		defer close(s.serveDone)
		if errServe := httpServer.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.serveErr = errServe
		}
	}()
	return nil
}

// Wait blocks until the serve loop started by Start exits and returns its error,
// which is nil after Shutdown.
func (s *Server) Wait() error {
	s.sessMutex.RLock()
	done := s.serveDone
	s.sessMutex.RUnlock()
	if done == nil {
		return nil
	}
	<-done
	return s.serveErr
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.sessMutex.RLock()
	defer s.sessMutex.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Shutdown stops the relay: new upgrades are refused, every session is closed
// with 1001, and the listener is released once sessions are gone or ctx
// expires. Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	s.shutdownOnce.Do(func() {
		s.sessMutex.Lock()
		s.closing = true
		sessions := make([]*session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		httpServer := s.httpServer
		s.sessMutex.Unlock()

		if s.hub != nil {
			s.hub.close()
		}
		if len(sessions) > 0 {
			log.Infof("relay shutting down, closing %d session(s)", len(sessions))
		}
		for _, sess := range sessions {
			go sess.cleanup(errShuttingDown)
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		s.baseCancel()

		if httpServer != nil {
			if errShutdown := httpServer.Shutdown(ctx); errShutdown != nil {
				_ = httpServer.Close()
				if len(errs) == 0 {
					errs = append(errs, errShutdown)
				}
			}
		}
		log.Info("relay stopped")
	})
	return errors.Join(errs...)
}

// Sessions returns a snapshot of live sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.sessMutex.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	s.sessMutex.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.sessMutex.RLock()
	defer s.sessMutex.RUnlock()
	return len(s.sessions)
}

func (s *Server) baseContext() context.Context {
	return s.baseCtx
}

func (s *Server) mode() string {
	if s.hub != nil {
		return config.ModeShared
	}
	return config.ModePerSession
}

// handleWebsocket upgrades the connection and wires the session into the set.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.URL != nil && r.URL.Path != s.opts.Path {
		http.NotFound(w, r)
		return
	}
	if !strings.EqualFold(r.Method, http.MethodGet) {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.isClosing() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r.RemoteAddr)
	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.SessionsRejected.WithLabelValues(string(reason)).Inc()
		log.WithFields(log.Fields{"remote": r.RemoteAddr, "limit": reason}).Warn("client rejected")
		status := http.StatusServiceUnavailable
		if reason == LimitReasonRate {
			status = http.StatusTooManyRequests
		}
		http.Error(w, "too many connections", status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.limits.Release(ip)
		log.WithFields(log.Fields{"remote": r.RemoteAddr, "error": err}).Debug("websocket upgrade failed")
		return
	}

	sess := newSession(conn, s, r.RemoteAddr, ip)
	if !s.addSession(sess) {
		sess.cleanup(errShuttingDown)
		return
	}
	info := sess.info()
	sess.log.WithFields(log.Fields{
		"upstream": s.opts.UpstreamAddr,
		"sessions": s.SessionCount(),
	}).Info("client connected")
	if s.opts.OnConnected != nil {
		s.opts.OnConnected(info)
	}

	go sess.run()
}

func (s *Server) isClosing() bool {
	s.sessMutex.RLock()
	defer s.sessMutex.RUnlock()
	return s.closing
}

func (s *Server) addSession(sess *session) bool {
	s.sessMutex.Lock()
	defer s.sessMutex.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	metrics.ActiveSessions.Inc()
	return true
}

func (s *Server) handleSessionClosed(sess *session, cause error) {
	if sess == nil {
		return
	}
	s.sessMutex.Lock()
	registered := false
	if cur, ok := s.sessions[sess.id]; ok && cur == sess {
		delete(s.sessions, sess.id)
		registered = true
	}
	remaining := len(s.sessions)
	s.sessMutex.Unlock()

	s.limits.Release(sess.ip)
	if !registered {
		return
	}

	_, _, reason := closeReason(cause)
	metrics.ActiveSessions.Dec()
	metrics.SessionsTotal.WithLabelValues(reason).Inc()
	metrics.SessionDuration.Observe(time.Since(sess.connectedAt).Seconds())

	entry := sess.log.WithFields(log.Fields{
		"reason":    reason,
		"forwarded": sess.forwarded.Load(),
		"sessions":  remaining,
	})
	switch reason {
	case "client_closed", "upstream_closed", "shutdown":
		entry.Info("client disconnected")
	default:
		entry.WithField("error", cause).Warn("client disconnected")
	}

	if s.opts.OnDisconnected != nil {
		s.opts.OnDisconnected(sess.info(), cause)
	}
	s.wg.Done()
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
