package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faultsys/alertrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSessions []relay.SessionInfo

func (s staticSessions) Sessions() []relay.SessionInfo { return s }
func (s staticSessions) SessionCount() int             { return len(s) }

var connectedAt = time.Date(2026, 10, 19, 20, 14, 4, 0, time.UTC)

func testSessions() staticSessions {
	return staticSessions{
		{ID: "1f0c2a9e-0000-4000-8000-000000000001", RemoteAddr: "10.0.0.4:51522", Upstream: "127.0.0.1:9000", State: "active", ConnectedAt: connectedAt, Forwarded: 12},
		{ID: "7b3d11aa-0000-4000-8000-000000000002", RemoteAddr: "10.0.0.5:40110", Upstream: "127.0.0.1:9000", State: "connecting", ConnectedAt: connectedAt.Add(time.Second)},
	}
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", testSessions())

	w := serve(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":2}`, w.Body.String())
}

func TestHealthWithoutRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", nil)

	w := serve(t, srv.Handler(), "/healthz")
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, w.Body.String())

	w = serve(t, srv.Handler(), "/v0/sessions")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", testSessions())

	w := serve(t, srv.Handler(), "/v0/sessions")
	require.Equal(t, http.StatusOK, w.Code)

	var got []relay.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.4:51522", got[0].RemoteAddr)
	assert.Equal(t, uint64(12), got[0].Forwarded)
	assert.True(t, connectedAt.Equal(got[0].ConnectedAt))
}

func TestGetSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", testSessions())

	w := serve(t, srv.Handler(), "/v0/sessions/7b3d11aa-0000-4000-8000-000000000002")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"connecting"`)

	w = serve(t, srv.Handler(), "/v0/sessions/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"session not found"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", testSessions())

	w := serve(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "alertrelay_active_sessions"))
}

func TestStartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", testSessions())
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Wait())
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestStartBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv := NewServer(taken.Addr().String(), nil)
	var bindErr *relay.BindError
	assert.ErrorAs(t, srv.Start(context.Background()), &bindErr)
}
