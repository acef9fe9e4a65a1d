// Package upstream manages byte-stream connections to the alert source.
//
// A Link wraps one TCP connection. It does not delimit records itself: Run hands
// every chunk to the caller exactly as read, and LineSplitter turns those chunks
// into newline-delimited records.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/logging"
)

const defaultReadBuffer = 4096

// ConnectError reports a failed connection attempt to the alert source.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("upstream: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Options tunes Dial.
type Options struct {
	DialTimeout time.Duration
	ReadBuffer  int
}

// Link is one live byte-stream connection to the alert source.
type Link struct {
	conn       net.Conn
	addr       string
	readBuffer int
	closeOnce  sync.Once
	closeErr   error
}

// Dial connects to addr. It blocks only the calling goroutine; failures are
// reported as *ConnectError.
func Dial(ctx context.Context, addr string, opts Options) (*Link, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	logging.ContextEntry(ctx).WithField("upstream", conn.LocalAddr().String()+"->"+addr).Debug("upstream connected")
	return newLink(conn, addr, opts), nil
}

func newLink(conn net.Conn, addr string, opts Options) *Link {
	size := opts.ReadBuffer
	if size <= 0 {
		size = defaultReadBuffer
	}
	return &Link{conn: conn, addr: addr, readBuffer: size}
}

// Addr returns the remote address the link was dialed with.
func (l *Link) Addr() string {
	return l.addr
}

// LocalAddr returns the local side of the connection.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads until the connection ends, calling onChunk for every read in arrival
// order. The chunk slice is only valid for the duration of the callback.
//
// Run returns nil when the alert source closes the stream and the read error
// otherwise. An error returned by onChunk stops the loop and is returned as-is.
// Cancelling ctx closes the link.
func (l *Link) Run(ctx context.Context, onChunk func([]byte) error) error {
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { _ = l.Close() })
		defer stop()
	}
	buf := make([]byte, l.readBuffer)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			if errChunk := onChunk(buf[:n]); errChunk != nil {
				return errChunk
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Write sends bytes to the alert source. The relay never calls it; it exists for
// tooling that needs a full-duplex link.
func (l *Link) Write(p []byte) (int, error) {
	return l.conn.Write(p)
}

// Close ends the connection in an orderly way: the write side is shut down first
// so the peer sees a FIN, then the socket is released. Close is idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if cw, ok := l.conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// IsClosedConn reports whether err is the result of reading from a link that was
// closed locally, which the caller usually treats as an orderly stop.
func IsClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
