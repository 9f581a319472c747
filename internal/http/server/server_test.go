package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/tokens"
)

type stubService struct{ calls int }

type stubDeleter struct{ keys []string }

func (d *stubDeleter) Delete(_ context.Context, key string) error {
	d.keys = append(d.keys, key)
	return nil
}

func (s *stubService) Generate(_ context.Context, req domain.RenderRequest) (domain.Result, error) {
	s.calls++
	b64 := "data:image/png;base64,AAAA"
	return domain.Result{Success: true, Base64: &b64, Metadata: domain.Metadata{Width: req.Width, Height: req.Height}}, nil
}

func (s *stubService) Health(context.Context) domain.Health {
	return domain.Health{Renderer: true, Storage: true, StorageConfigured: true}
}

func testDeps(svc *stubService) Deps {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	return Deps{Config: cfg, Service: svc, Version: "test"}
}

func call(t *testing.T, deps Deps, req *http.Request) (int, map[string]any) {
	t.Helper()
	app := New(deps)
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func generateRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRoutes(t *testing.T) {
	svc := &stubService{}
	deps := testDeps(svc)

	status, out := call(t, deps, generateRequest(`{"html":"<p>x</p>","response_format":"base64"}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 1, svc.calls)

	status, out = call(t, deps, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", out["status"])

	status, _ = call(t, deps, httptest.NewRequest(http.MethodGet, "/api/v1/chrome/stats", nil))
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, deps, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, status)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	status, out := call(t, testDeps(&stubService{}), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, out["success"])
	e := out["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", e["code"])
}

func TestProbes(t *testing.T) {
	deps := testDeps(&stubService{})
	status, _ := call(t, deps, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, status)

	deps.Ready = func() bool { return false }
	status, _ = call(t, deps, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAPIKeyRequired(t *testing.T) {
	svc := &stubService{}
	deps := testDeps(svc)
	deps.Config.Auth.RequireAPIKey = true
	deps.Tokens = tokens.NewCache()
	deps.Tokens.Replace(map[string]tokens.Entry{"good": {}})

	status, out := call(t, deps, generateRequest(`{"html":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", out["error"].(map[string]any)["code"])

	req := generateRequest(`{"html":"x"}`)
	req.Header.Set("X-API-Key", "bad")
	status, _ = call(t, deps, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req = generateRequest(`{"html":"x","response_format":"base64"}`)
	req.Header.Set("X-API-Key", "good")
	status, _ = call(t, deps, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, svc.calls)
}

func TestBodyLimit(t *testing.T) {
	svc := &stubService{}
	deps := testDeps(svc)
	deps.Config.Server.BodyLimitBytes = 64
	app := New(deps)

	// fasthttp rejects the oversized body before any handler runs
	_, err := app.Test(generateRequest(`{"html":"` + strings.Repeat("a", 256) + `"}`))
	require.Error(t, err)
	assert.Equal(t, "body size exceeds the given limit", err.Error())
	assert.Zero(t, svc.calls)

	resp, err := app.Test(generateRequest(`{"html":"x","response_format":"base64"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, svc.calls)
}

func TestDeleteRequiresAPIKey(t *testing.T) {
	const path = "/api/v1/images/images/2026/01/01/abc.png"

	t.Run("no token store", func(t *testing.T) {
		del := &stubDeleter{}
		deps := testDeps(&stubService{})
		deps.Deleter = del
		status, _ := call(t, deps, httptest.NewRequest(http.MethodDelete, path, nil))
		assert.Equal(t, http.StatusNotFound, status)
		assert.Empty(t, del.keys)
	})

	t.Run("anonymous", func(t *testing.T) {
		del := &stubDeleter{}
		deps := testDeps(&stubService{})
		deps.Deleter = del
		deps.Tokens = tokens.NewCache()
		deps.Tokens.Replace(map[string]tokens.Entry{"good": {}})

		status, out := call(t, deps, httptest.NewRequest(http.MethodDelete, path, nil))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", out["error"].(map[string]any)["code"])
		assert.Empty(t, del.keys)

		req := httptest.NewRequest(http.MethodDelete, path, nil)
		req.Header.Set("X-API-Key", "good")
		status, _ = call(t, deps, req)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"images/2026/01/01/abc.png"}, del.keys)
	})
}
