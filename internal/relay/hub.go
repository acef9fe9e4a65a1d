package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/metrics"
	"github.com/faultsys/alertrelay/internal/upstream"
	log "github.com/sirupsen/logrus"
)

// hub fans one upstream connection out to every subscribed session. The link
// is dialed by the first subscriber and closed when the last one leaves.
type hub struct {
	ctx          context.Context
	addr         string
	dialTimeout  time.Duration
	maxLineBytes int

	mu     sync.Mutex
	link   *upstream.Link
	subs   map[*session]struct{}
	closed bool
}

func newHub(ctx context.Context, addr string, dialTimeout time.Duration, maxLineBytes int) *hub {
	return &hub{
		ctx:          ctx,
		addr:         addr,
		dialTimeout:  dialTimeout,
		maxLineBytes: maxLineBytes,
		subs:         make(map[*session]struct{}),
	}
}

// subscribe adds sess to the broadcast set, dialing the upstream if no link is
// open. A failed dial is returned to the caller only.
func (h *hub) subscribe(sess *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrServerClosed
	}
	select {
	case <-sess.closed:
		return errClientClosed
	default:
	}
	if h.link == nil {
		link, err := upstream.Dial(h.ctx, h.addr, upstream.Options{DialTimeout: h.dialTimeout})
		if err != nil {
			return err
		}
		h.link = link
		log.WithFields(log.Fields{"upstream": h.addr, "mode": "shared"}).Info("shared upstream connected")
		go h.pump(link)
	}
	h.subs[sess] = struct{}{}
	return nil
}

func (h *hub) unsubscribe(sess *session) {
	h.mu.Lock()
	if _, ok := h.subs[sess]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sess)
	var idle *upstream.Link
	if len(h.subs) == 0 && h.link != nil {
		idle = h.link
		h.link = nil
	}
	h.mu.Unlock()

	if idle != nil {
		log.WithField("upstream", h.addr).Debug("last subscriber left, closing shared upstream")
		_ = idle.Close()
	}
}

// subscribers returns the current subscriber count.
func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close stops the hub for good and closes the live link, if any.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	link := h.link
	h.link = nil
	h.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
}

func (h *hub) pump(link *upstream.Link) {
	splitter := upstream.NewLineSplitter(h.maxLineBytes)
	err := link.Run(h.ctx, func(chunk []byte) error {
		return splitter.Feed(chunk, h.broadcast)
	})
	if err == nil {
		_ = splitter.Flush(h.broadcast)
	}

	h.mu.Lock()
	if h.link != link {
		// Detached by close or by the last unsubscribe.
		h.mu.Unlock()
		return
	}
	h.link = nil
	subs := h.subs
	h.subs = make(map[*session]struct{})
	h.mu.Unlock()

	var cause error
	switch {
	case err == nil:
		cause = errUpstreamClosed
	case errors.Is(err, upstream.ErrLineTooLong), !upstream.IsClosedConn(err):
		metrics.TransportErrors.WithLabelValues(string(SideUpstream)).Inc()
		cause = &TransportError{Side: SideUpstream, Addr: h.addr, Err: err}
	default:
		cause = errShuttingDown
	}
	entry := log.WithFields(log.Fields{"upstream": h.addr, "sessions": len(subs)})
	if err != nil {
		entry = entry.WithField("error", err)
	}
	entry.Info("shared upstream ended")
	for sess := range subs {
		go sess.cleanup(cause)
	}
}

// broadcast queues a copy of line on every subscriber. A subscriber whose queue
// is full is evicted rather than allowed to stall the others.
func (h *hub) broadcast(line []byte) error {
	msg := append([]byte(nil), line...)

	var evicted []*session
	h.mu.Lock()
	for sess := range h.subs {
		select {
		case sess.queue <- msg:
		default:
			delete(h.subs, sess)
			evicted = append(evicted, sess)
		}
	}
	var idle *upstream.Link
	if len(evicted) > 0 && len(h.subs) == 0 {
		idle = h.link
		h.link = nil
	}
	h.mu.Unlock()

	if idle != nil {
		_ = idle.Close()
	}

	for _, sess := range evicted {
		metrics.SlowConsumersEvicted.Inc()
		sess.log.WithField("reason", "slow_consumer").Warn("evicting subscriber with full queue")
		go sess.cleanup(errSlowConsumer)
	}
	return nil
}
