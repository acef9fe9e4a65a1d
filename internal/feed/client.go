// Package feed consumes the relay's WebSocket stream the way a dashboard does:
// every text message is decoded as an alert, invalid payloads are dropped and
// the newest alerts are kept in a bounded Window.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/faultsys/alertrelay/internal/alert"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Options configures a Client.
type Options struct {
	URL         string
	Header      http.Header
	WindowSize  int
	DialTimeout time.Duration
	// Clock stamps Entry.Received; nil uses the real clock.
	Clock clockwork.Clock

	OnAlert   func(Entry)
	OnInvalid func(raw []byte, err error)
}

// Client reads alerts from one relay connection. It does not reconnect.
type Client struct {
	opts   Options
	window *Window
	clock  clockwork.Clock
	dialer websocket.Dialer

	received  atomic.Uint64
	discarded atomic.Uint64
}

// NewClient builds a client for opts.URL.
func NewClient(opts Options) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		opts:   opts,
		window: NewWindow(opts.WindowSize),
		clock:  clock,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

// Window returns the client's alert window.
func (c *Client) Window() *Window {
	return c.window
}

// Received returns how many valid alerts were accepted.
func (c *Client) Received() uint64 {
	return c.received.Load()
}

// Discarded returns how many payloads were dropped as invalid.
func (c *Client) Discarded() uint64 {
	return c.discarded.Load()
}

// Run connects and consumes messages until the relay closes the stream or ctx
// is cancelled. A normal close from either side returns nil.
func (c *Client) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("feed: dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("feed: dial %s: %w", c.opts.URL, err)
	}
	defer conn.Close()
	log.Infof("connected to %s", c.opts.URL)

	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		kind, payload, errRead := conn.ReadMessage()
		if errRead != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(errRead, &closeErr) {
				log.Infof("connection closed by relay: %d %s", closeErr.Code, closeErr.Text)
				if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
					return nil
				}
			}
			return fmt.Errorf("feed: read: %w", errRead)
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handle(payload)
	}
}

// handle decodes one payload; invalid payloads are counted and dropped.
func (c *Client) handle(payload []byte) {
	a, err := alert.Decode(payload)
	if err != nil {
		c.discarded.Add(1)
		log.WithError(err).Debugf("discarding invalid payload (%d bytes)", len(payload))
		if c.opts.OnInvalid != nil {
			c.opts.OnInvalid(payload, err)
		}
		return
	}
	entry := Entry{Alert: a, Raw: append([]byte(nil), payload...), Received: c.clock.Now()}
	c.window.Push(entry)
	c.received.Add(1)
	if c.opts.OnAlert != nil {
		c.opts.OnAlert(entry)
	}
}
