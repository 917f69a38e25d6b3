package spa

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/errs"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestWebServer_Builtin(t *testing.T) {
	port := freePort(t)
	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	s := NewWebServer(config.WebServerConfig{
		Root: buildDir(t), URL: url, Port: port, Timeout: 5 * time.Second, SPAFallback: true,
	})
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Reused())

	resp, err := http.Get(url + "/challenges")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, shell, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	require.NoError(t, s.Stop(context.Background()))
	_, err = http.Get(url)
	assert.Error(t, err)
}

func TestWebServer_ReusesLiveServer(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(live.Close)

	s := NewWebServer(config.WebServerConfig{URL: live.URL, Root: t.TempDir(), ReuseExistingServer: true, Timeout: time.Second})
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Reused())
	require.NoError(t, s.Stop(context.Background()))

	// Stop leaves a reused server running.
	resp, err := http.Get(live.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestWebServer_BusyWithoutReuse(t *testing.T) {
	live := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(live.Close)

	s := NewWebServer(config.WebServerConfig{URL: live.URL, Root: t.TempDir(), Timeout: time.Second})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
}

func TestWebServer_CommandTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	port := freePort(t)
	s := NewWebServer(config.WebServerConfig{
		Command: "sleep 30",
		URL:     fmt.Sprintf("http://127.0.0.1:%d", port),
		Timeout: 600 * time.Millisecond,
	})
	start := time.Now()
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestWebServer_CommandExitsEarly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	port := freePort(t)
	s := NewWebServer(config.WebServerConfig{
		Command: "exit 3",
		URL:     fmt.Sprintf("http://127.0.0.1:%d", port),
		Timeout: 5 * time.Second,
	})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited early")
}
