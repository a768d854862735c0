package http_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/mkrupp/userstore/internal/infra/transport/http"
)

func serve(t *testing.T, handler transport.HTTPTransport) string {
	t.Helper()

	sock, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- transport.Serve(ctx, sock, handler, transport.HTTPTransportConfig{
			ReadHeaderTimeout: time.Second,
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
			ShutdownTimeout:   time.Second,
		})
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return "http://" + sock.Addr().String()
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestOpsHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	var unhealthy atomic.Bool

	base := serve(t, transport.NewOpsHandler(reg, func(context.Context) error {
		if unhealthy.Load() {
			return errors.New("cache empty")
		}

		return nil
	}))

	resp, body := get(t, base+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ops_test_total 1")

	resp, body = get(t, base+"/healthz", http.Header{transport.TraceIDHeader: {"trace-abc"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)
	assert.Equal(t, "trace-abc", resp.Header.Get(transport.TraceIDHeader))

	unhealthy.Store(true)

	resp, body = get(t, base+"/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "cache empty")
	assert.NotEmpty(t, resp.Header.Get(transport.TraceIDHeader))

	resp, _ = get(t, base+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRescueingMiddleware(t *testing.T) {
	t.Parallel()

	base := serve(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	resp, _ := get(t, base+"/", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListenAndServe_BadAddr(t *testing.T) {
	t.Parallel()

	err := transport.ListenAndServe(context.Background(), http.NotFoundHandler(), transport.HTTPTransportConfig{
		ServerAddr: "not-an-address",
	})
	require.Error(t, err)
}
