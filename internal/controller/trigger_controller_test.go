package controller_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-orchestrator/internal/controller"
	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

type stubTrigger struct {
	name string
	res  trigger.Result
	err  error
}

func (s stubTrigger) Name() string { return s.name }

func (s stubTrigger) Run(ctx context.Context, now time.Time) (trigger.Result, error) {
	return s.res, s.err
}

func newRouter() http.Handler {
	s := trigger.NewScheduler(nil, zerolog.Nop())
	s.Register(stubTrigger{name: "teaser-sync", res: trigger.Result{Fired: true, Detail: "inserted 2, skipped 0"}}, 0)
	s.Register(stubTrigger{name: "deploy-check", err: errors.New("deploys table missing")}, 0)

	ctrl := &controller.TriggerController{Triggers: s, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/triggers", ctrl.ListTriggers)
	r.Post("/triggers/{name}", ctrl.RunTrigger)
	return r
}

func TestListTriggers(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/triggers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Triggers []string `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"deploy-check", "teaser-sync"}, body.Triggers)
}

func TestRunTrigger(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		detail string
	}{
		{"fires", "/triggers/teaser-sync", http.StatusOK, "inserted 2, skipped 0"},
		{"unknown", "/triggers/nope", http.StatusNotFound, ""},
		{"failing", "/triggers/deploy-check", http.StatusInternalServerError, ""},
	}
	router := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.detail == "" {
				return
			}
			var body struct {
				Trigger string         `json:"trigger"`
				Result  trigger.Result `json:"result"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.True(t, body.Result.Fired)
			assert.Equal(t, tt.detail, body.Result.Detail)
		})
	}
}

type busyRunner struct{}

func (busyRunner) Names() []string { return []string{"cadence-run"} }

func (busyRunner) RunOnce(ctx context.Context, name string) (trigger.Result, error) {
	return trigger.Result{}, trigger.ErrBusy
}

func TestRunTrigger_Busy(t *testing.T) {
	ctrl := &controller.TriggerController{Triggers: busyRunner{}, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Post("/triggers/{name}", ctrl.RunTrigger)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/triggers/cadence-run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
