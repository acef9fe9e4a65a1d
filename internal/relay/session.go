package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faultsys/alertrelay/internal/alert"
	"github.com/faultsys/alertrelay/internal/logging"
	"github.com/faultsys/alertrelay/internal/metrics"
	"github.com/faultsys/alertrelay/internal/upstream"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	maxInboundMessageLen = 64 << 10
	closeFrameTimeout    = time.Second
)

// State is a session's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Upstream    string    `json:"upstream"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	Forwarded   uint64    `json:"forwarded"`
}

// session pairs one client WebSocket with one upstream source. Teardown of
// either side goes through cleanup, which releases both.
type session struct {
	id          string
	conn        *websocket.Conn
	server      *Server
	remote      string
	ip          string
	upstream    string
	connectedAt time.Time
	log         *log.Entry

	state     atomic.Int32
	forwarded atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	linkMu sync.Mutex
	link   *upstream.Link

	// queue feeds the session from the shared hub; nil in per-session mode.
	queue chan []byte
}

func newSession(conn *websocket.Conn, srv *Server, remote, ip string) *session {
	id := logging.NewSessionID()
	ctx, cancel := context.WithCancel(logging.WithSessionID(srv.baseContext(), id))
	s := &session{
		id:          id,
		conn:        conn,
		server:      srv,
		remote:      remote,
		ip:          ip,
		upstream:    srv.opts.UpstreamAddr,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		closed:      make(chan struct{}),
		log: logging.SessionEntry(id).WithFields(log.Fields{
			"remote": remote,
		}),
	}
	s.state.Store(int32(StateConnecting))
	if srv.hub != nil {
		s.queue = make(chan []byte, srv.opts.SendQueue)
	}
	conn.SetReadLimit(maxInboundMessageLen)
	return s
}

// State returns the current lifecycle state.
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		RemoteAddr:  s.remote,
		Upstream:    s.upstream,
		State:       s.State().String(),
		ConnectedAt: s.connectedAt,
		Forwarded:   s.forwarded.Load(),
	}
}

// run drives the session until either side ends. It starts watching the client
// before the upstream connection exists so a client that leaves while we dial
// cancels the attempt.
func (s *session) run() {
	go s.readPump()

	if s.server.hub != nil {
		s.runShared()
		return
	}

	link, err := upstream.Dial(s.ctx, s.upstream, upstream.Options{DialTimeout: s.server.opts.DialTimeout})
	if err != nil {
		if s.ctx.Err() != nil {
			// The client left or the server is stopping; cleanup already ran.
			s.cleanup(errClientClosed)
			return
		}
		metrics.UpstreamDialErrors.Inc()
		s.log.WithFields(log.Fields{"side": SideUpstream, "upstream": s.upstream, "error": err}).Warn("upstream connect failed")
		s.cleanup(err)
		return
	}
	if !s.attachLink(link) {
		_ = link.Close()
		return
	}
	s.activate()

	splitter := upstream.NewLineSplitter(s.server.opts.MaxLineBytes)
	errRun := link.Run(s.ctx, func(chunk []byte) error {
		return splitter.Feed(chunk, s.forward)
	})
	if errRun == nil {
		errRun = splitter.Flush(s.forward)
		if errRun == nil {
			errRun = errUpstreamClosed
		}
	}
	s.cleanup(s.classifyUpstreamErr(errRun))
}

// runShared subscribes to the server's hub and drains the session queue.
func (s *session) runShared() {
	if err := s.server.hub.subscribe(s); err != nil {
		var connectErr *ConnectError
		if errors.As(err, &connectErr) {
			metrics.UpstreamDialErrors.Inc()
			s.log.WithFields(log.Fields{"side": SideUpstream, "upstream": s.upstream, "error": err}).Warn("upstream connect failed")
		}
		s.cleanup(err)
		return
	}
	s.activate()
	for {
		select {
		case <-s.closed:
			return
		case line := <-s.queue:
			if err := s.forward(line); err != nil {
				s.cleanup(err)
				return
			}
		}
	}
}

func (s *session) activate() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
	s.startHeartbeat()
}

func (s *session) attachLink(link *upstream.Link) bool {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.link = link
	return true
}

func (s *session) detachLink() *upstream.Link {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	link := s.link
	s.link = nil
	return link
}

// classifyUpstreamErr turns the result of the upstream read loop into the
// session's terminal cause.
func (s *session) classifyUpstreamErr(err error) error {
	var transportErr *TransportError
	switch {
	case errors.Is(err, errUpstreamClosed), errors.Is(err, errClientClosed):
		return err
	case errors.As(err, &transportErr):
		return err
	case s.ctx.Err() != nil && upstream.IsClosedConn(err):
		return errClientClosed
	default:
		metrics.TransportErrors.WithLabelValues(string(SideUpstream)).Inc()
		return &TransportError{Side: SideUpstream, Addr: s.upstream, Err: err}
	}
}

// forward writes one record to the client as a single text message.
func (s *session) forward(line []byte) error {
	if err := s.writeText(line); err != nil {
		if errors.Is(err, errClientClosed) {
			return err
		}
		metrics.TransportErrors.WithLabelValues(string(SideClient)).Inc()
		return &TransportError{Side: SideClient, Addr: s.remote, Err: err}
	}
	s.forwarded.Add(1)

	summary := alert.Peek(line)
	metrics.LinesForwarded.WithLabelValues(summary.Severity).Inc()
	if log.IsLevelEnabled(log.DebugLevel) {
		s.log.WithFields(log.Fields{
			"machine":  summary.Machine,
			"severity": summary.Severity,
			"metric":   summary.Metric,
		}).Debug("alert forwarded")
	}
	return nil
}

func (s *session) writeText(payload []byte) error {
	select {
	case <-s.closed:
		return errClientClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout := s.server.opts.WriteTimeout; timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// readPump discards anything the client sends; its only job is to notice the
// client going away.
func (s *session) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.cleanup(errClientClosed)
				return
			}
			metrics.TransportErrors.WithLabelValues(string(SideClient)).Inc()
			s.cleanup(&TransportError{Side: SideClient, Addr: s.remote, Err: err})
			return
		}
	}
}

// startHeartbeat pings the client and arms a read deadline that each pong
// extends. A zero interval disables both.
func (s *session) startHeartbeat() {
	interval := s.server.opts.HeartbeatInterval
	if interval <= 0 {
		return
	}
	readTimeout := 2 * interval
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-ticker.C:
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.server.opts.WriteTimeout))
				if err != nil {
					metrics.TransportErrors.WithLabelValues(string(SideClient)).Inc()
					s.cleanup(&TransportError{Side: SideClient, Addr: s.remote, Err: err})
					return
				}
			}
		}
	}()
}

// cleanup tears the session down exactly once: the client side is closed first,
// then the upstream side, then the server is told the session ended.
func (s *session) cleanup(cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closed)
		s.cancel()

		code, text, _ := closeReason(cause)
		if code != websocket.CloseAbnormalClosure {
			msg := websocket.FormatCloseMessage(code, text)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout))
		}
		_ = s.conn.Close()

		if link := s.detachLink(); link != nil {
			_ = link.Close()
		}
		if s.server.hub != nil {
			s.server.hub.unsubscribe(s)
		}

		s.state.Store(int32(StateClosed))
		s.server.handleSessionClosed(s, cause)
	})
}
