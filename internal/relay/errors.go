package relay

import (
	"errors"
	"fmt"

	"github.com/faultsys/alertrelay/internal/upstream"
	"github.com/gorilla/websocket"
)

// Side names one end of a session in errors and log fields.
type Side string

const (
	SideClient   Side = "client"
	SideUpstream Side = "upstream"
)

// ErrServerClosed is returned when a session is refused because the server is
// shutting down.
var ErrServerClosed = errors.New("relay: server closed")

var (
	errClientClosed   = errors.New("client disconnected")
	errUpstreamClosed = errors.New("upstream closed the stream")
	errSlowConsumer   = errors.New("client cannot keep up with the alert stream")
	errShuttingDown   = errors.New("relay shutting down")
)

// ConnectError reports a failed connection attempt to the alert source. It is
// contained to the session that made the attempt.
type ConnectError = upstream.ConnectError

// BindError reports that the relay could not listen on its configured address.
// It is fatal at startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("relay: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure on one side of an active session.
type TransportError struct {
	Side Side
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay: %s %s: %v", e.Side, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// closeReason maps a session's terminal cause to the WebSocket close frame sent
// to the client and the label recorded in metrics.
func closeReason(cause error) (code int, text string, label string) {
	var (
		connectErr   *ConnectError
		transportErr *TransportError
	)
	switch {
	case cause == nil, errors.Is(cause, errClientClosed):
		return websocket.CloseNormalClosure, "", "client_closed"
	case errors.Is(cause, errUpstreamClosed):
		return websocket.CloseNormalClosure, "upstream closed", "upstream_closed"
	case errors.Is(cause, errShuttingDown), errors.Is(cause, ErrServerClosed):
		return websocket.CloseGoingAway, "relay shutting down", "shutdown"
	case errors.Is(cause, errSlowConsumer):
		return websocket.CloseTryAgainLater, "client too slow", "slow_consumer"
	case errors.As(cause, &connectErr):
		return websocket.CloseInternalServerErr, "upstream unavailable", "connect_error"
	case errors.As(cause, &transportErr):
		if transportErr.Side == SideClient {
			return websocket.CloseAbnormalClosure, "", "client_error"
		}
		return websocket.CloseInternalServerErr, "upstream error", "upstream_error"
	default:
		return websocket.CloseInternalServerErr, "relay error", "error"
	}
}
