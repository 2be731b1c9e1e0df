package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TRANSPORT", "mock")
	t.Setenv("PROGRESS_STORE", "file")
	t.Setenv("PROGRESS_FILE", filepath.Join(t.TempDir(), "progress.json"))
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes_WithoutDatabase(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/campaigns/progress", http.StatusNotFound},
		{http.MethodGet, "/metrics/summary", http.StatusOK},
		{http.MethodGet, "/calendar/teasers", http.StatusNotFound},
		{http.MethodGet, "/triggers", http.StatusOK},
		{http.MethodPost, "/triggers/bounce-rate-check", http.StatusOK},
		{http.MethodPost, "/triggers/deadline-check", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.status, get(t, a.router, tt.method, tt.path).Code)
		})
	}
}

func TestRoutes_OnlyMetricsTriggersWithoutDatabase(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, []string{"bounce-rate-check"}, a.scheduler.Names())

	rec := get(t, a.router, http.MethodPost, "/triggers/bounce-rate-check")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Result trigger.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Result.Fired)
	assert.Equal(t, "0 samples", body.Result.Detail)

	rec = get(t, a.router, http.MethodGet, "/metrics")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "outreach_metric_samples_total")
}

func TestServe_StopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestLoadTeasers(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "teasers.json")
	require.NoError(t, os.WriteFile(good, []byte(`[
		{"slug": "spring-tax-guide", "locale": "en", "title": "Spring tax guide", "publish_on": "2026-11-02T00:00:00Z"},
		{"slug": "spring-tax-guide", "locale": "es", "title": "Guía fiscal de primavera", "publish_on": "2026-11-02T00:00:00Z"}
	]`), 0o600))
	teasers, err := loadTeasers(good)
	require.NoError(t, err)
	require.Len(t, teasers, 2)
	assert.Equal(t, "es", teasers[1].Locale)

	badLocale := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badLocale, []byte(`[{"slug": "x", "locale": "fr", "title": "X"}]`), 0o600))
	_, err = loadTeasers(badLocale)
	assert.Error(t, err)

	_, err = loadTeasers(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
