package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lendingcore/internal/config"
	"lendingcore/internal/httpx"
)

func echo(name string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", name)
		io.WriteString(w, r.Method+" "+r.URL.RequestURI())
	}))
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestRoutesToUpstreams(t *testing.T) {
	circ, inv := echo("circulation"), echo("inventory")
	defer circ.Close()
	defer inv.Close()

	h, err := New(config.GatewayConfig{CirculationURL: circ.URL, InventoryURL: inv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	gw := httptest.NewServer(h)
	defer gw.Close()

	cases := []struct {
		path, upstream, body string
	}{
		{"/api/v1/loans/overdue", "circulation", "GET /loans/overdue"},
		{"/api/v1/loans/abc?x=1", "circulation", "GET /loans/abc?x=1"},
		{"/api/v1/copies/abc/available", "inventory", "GET /copies/abc/available"},
		{"/api/v1/items/abc/availability", "inventory", "GET /items/abc/availability"},
	}
	for _, tc := range cases {
		resp, body := get(t, gw.URL+tc.path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, tc.path)
		assert.Equal(t, tc.upstream, resp.Header.Get("X-Upstream"), tc.path)
		assert.Equal(t, tc.body, body, tc.path)
	}

	resp, _ := get(t, gw.URL+"/api/v1/members/1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, gw.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpstreamDownIs503(t *testing.T) {
	dead := echo("inventory")
	dead.Close()

	h, err := New(config.GatewayConfig{CirculationURL: dead.URL, InventoryURL: dead.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	gw := httptest.NewServer(h)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/api/v1/loans/overdue")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body httpx.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "upstream_unavailable", body.Code)
}

func TestBadUpstreamURL(t *testing.T) {
	_, err := New(config.GatewayConfig{CirculationURL: "::", InventoryURL: "http://x"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
