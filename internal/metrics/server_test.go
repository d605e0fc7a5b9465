package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	port := freePort(t)

	ready := false
	s := NewServer(port, "risk-governor", func() bool { return ready }, zerolog.Nop())
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "risk-governor")

	code, _ = get(t, base+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready = true
	code, body = get(t, base+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body)

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_NilReadyAlwaysReady(t *testing.T) {
	port := freePort(t)

	s := NewServer(port, "gateway", nil, zerolog.Nop())
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	code, _ := get(t, fmt.Sprintf("http://127.0.0.1:%d/ready", port))
	assert.Equal(t, http.StatusOK, code)
}
