package cmd

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/faultsys/alertrelay/internal/config"
	"github.com/faultsys/alertrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, upstreamAddr string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Admin.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.SetUpstream(upstreamAddr))
	require.NoError(t, cfg.Validate())
	return cfg
}

func listening(addr string) bool {
	return !strings.HasSuffix(addr, ":0")
}

func TestServiceRelaysAndShutsDownOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	svc := NewService(testConfig(t, upstream.Addr().String()), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return listening(svc.Relay().Addr()) && listening(svc.Admin().Addr())
	}, 3*time.Second, 10*time.Millisecond)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Relay().Addr()+"/", nil)
	require.NoError(t, err)
	defer client.Close()

	src, err := upstream.Accept()
	require.NoError(t, err)
	defer src.Close()
	_, err = io.WriteString(src, `{"machine":"M1","severity":"WARN"}`+"\n")
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"machine":"M1","severity":"WARN"}`, string(payload))

	resp, err := http.Get("http://" + svc.Admin().Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, string(body))

	cancel()
	select {
	case errRun := <-done:
		assert.NoError(t, errRun)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	_, _, err = client.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestServiceBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t, "127.0.0.1:9000")
	cfg.Admin.Addr = taken.Addr().String()

	svc := NewService(cfg, "", nil)
	err = svc.Run(context.Background())
	var bindErr *relay.BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, taken.Addr().String(), bindErr.Addr)
}

func TestServiceWithoutAdmin(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:9000")
	cfg.Admin.Addr = ""
	svc := NewService(cfg, "", nil)
	assert.Nil(t, svc.Admin())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return listening(svc.Relay().Addr()) }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestDrainedTurnsDeadlineIntoWarning(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	assert.NoError(t, drained("relay", nil))
	assert.NoError(t, drained("relay", context.DeadlineExceeded))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "relay", hook.LastEntry().Data["component"])

	other := errors.New("listener broken")
	assert.ErrorIs(t, drained("admin", other), other)
}

func TestServiceSignalShutdownPastDeadlineReturnsNil(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	cfg := testConfig(t, upstream.Addr().String())
	cfg.Admin.Addr = ""
	svc := NewService(cfg, "", nil)
	svc.shutdownTimeout = time.Nanosecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return listening(svc.Relay().Addr()) }, 3*time.Second, 10*time.Millisecond)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Relay().Addr()+"/", nil)
	require.NoError(t, err)
	defer client.Close()
	src, err := upstream.Accept()
	require.NoError(t, err)
	defer src.Close()
	require.Eventually(t, func() bool { return svc.Relay().SessionCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case errRun := <-done:
		assert.NoError(t, errRun)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
