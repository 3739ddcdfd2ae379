package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	preferred bool
	rows      map[string]int64
	rowsErr   error
}

func (f *fakeBackend) ActiveTargetDescription() string {
	if f.preferred {
		return "preferred-external sqlite:~/stockroom;AUTO_SERVER=TRUE"
	}
	return "local-embedded sqlite:./data/stockroom"
}
func (f *fakeBackend) IsUsingPreferredExternalTarget() bool { return f.preferred }
func (f *fakeBackend) EnablePreferredExternalTarget(enabled bool) {
	f.preferred = enabled
}
func (f *fakeBackend) Services() []string { return []string{"tcp", "console"} }
func (f *fakeBackend) TableRows(context.Context) (map[string]int64, error) {
	return f.rows, f.rowsErr
}

func serve(t *testing.T, b Backend, reg prometheus.Gatherer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(":0", b, reg, "0.1.0-alpha", logger.Nop).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func TestStatus(t *testing.T) {
	srv := serve(t, &fakeBackend{preferred: true}, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/console/status", "", map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.1.0-alpha", body["version"])
	assert.Equal(t, true, body["preferred"])
	assert.Contains(t, body["target"], "preferred-external")
	assert.Equal(t, []any{"tcp", "console"}, body["services"])
}

func TestJSONOnly(t *testing.T) {
	srv := serve(t, &fakeBackend{}, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/console/status", "", map[string]string{"Accept": "text/html"})
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	assert.Equal(t, "not_acceptable", body["error"])

	resp, body = do(t, http.MethodPost, srv.URL+"/console/preferred", `{"enabled":true}`, map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "unsupported_media_type", body["error"])
}

func TestPreferredToggle(t *testing.T) {
	b := &fakeBackend{}
	srv := serve(t, b, nil)
	jsonBody := map[string]string{"Content-Type": "application/json"}

	resp, body := do(t, http.MethodPost, srv.URL+"/console/preferred", `{"enabled":true}`, jsonBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, b.preferred)
	assert.Equal(t, true, body["preferred"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/console/preferred", `{}`, jsonBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, b.preferred)

	resp, body = do(t, http.MethodGet, srv.URL+"/console/preferred", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["preferred"])
}

func TestTables(t *testing.T) {
	b := &fakeBackend{rows: map[string]int64{"users": 3, "items": 0}}
	srv := serve(t, b, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/console/tables", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"users": 3.0, "items": 0.0}, body["tables"])

	b.rowsErr = errors.New("unable to connect")
	resp, body = do(t, http.MethodGet, srv.URL+"/console/tables", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["error"])
}

func TestMetricsAndLive(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockroom_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	srv := serve(t, &fakeBackend{}, reg)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(data), "stockroom_test_total 1")

	resp, err = http.Get(srv.URL + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	s := New("127.0.0.1:0", &fakeBackend{}, nil, "test", logger.Nop)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}
