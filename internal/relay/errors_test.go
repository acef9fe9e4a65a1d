package relay

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/faultsys/alertrelay/internal/upstream"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestCloseReason(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		code  int
		text  string
		label string
	}{
		{"nil", nil, websocket.CloseNormalClosure, "", "client_closed"},
		{"client left", errClientClosed, websocket.CloseNormalClosure, "", "client_closed"},
		{"upstream eof", errUpstreamClosed, websocket.CloseNormalClosure, "upstream closed", "upstream_closed"},
		{"shutdown", errShuttingDown, websocket.CloseGoingAway, "relay shutting down", "shutdown"},
		{"server closed", ErrServerClosed, websocket.CloseGoingAway, "relay shutting down", "shutdown"},
		{"slow consumer", errSlowConsumer, websocket.CloseTryAgainLater, "client too slow", "slow_consumer"},
		{"connect", &upstream.ConnectError{Addr: "127.0.0.1:9000", Err: errors.New("refused")}, websocket.CloseInternalServerErr, "upstream unavailable", "connect_error"},
		{"client transport", &TransportError{Side: SideClient, Err: io.ErrUnexpectedEOF}, websocket.CloseAbnormalClosure, "", "client_error"},
		{"upstream transport", &TransportError{Side: SideUpstream, Err: upstream.ErrLineTooLong}, websocket.CloseInternalServerErr, "upstream error", "upstream_error"},
		{"wrapped", fmt.Errorf("session: %w", errUpstreamClosed), websocket.CloseNormalClosure, "upstream closed", "upstream_closed"},
		{"other", errors.New("boom"), websocket.CloseInternalServerErr, "relay error", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, text, label := closeReason(tt.cause)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	bindErr := &BindError{Addr: ":8080", Err: errors.New("address already in use")}
	assert.EqualError(t, bindErr, "relay: bind :8080: address already in use")
	assert.ErrorIs(t, &TransportError{Side: SideUpstream, Addr: "a", Err: io.EOF}, io.EOF)
}
