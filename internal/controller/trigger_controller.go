// internal/controller/trigger_controller.go
package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

// TriggerRunner is the scheduler as seen by HTTP callers.
type TriggerRunner interface {
	Names() []string
	RunOnce(ctx context.Context, name string) (trigger.Result, error)
}

// TriggerController lets an external cron fire the periodic functions.
type TriggerController struct {
	Triggers TriggerRunner
	Logger   zerolog.Logger
}

func (c *TriggerController) ListTriggers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"triggers": c.Triggers.Names(),
	})
}

// RunTrigger invokes one trigger synchronously and reports its result.
func (c *TriggerController) RunTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := c.Triggers.RunOnce(r.Context(), name)
	switch {
	case errors.Is(err, trigger.ErrUnknownTrigger):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, trigger.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		c.Logger.Error().Err(err).Str("trigger", name).Msg("trigger invocation failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"trigger": name,
			"result":  result,
			"error":   err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trigger": name,
		"result":  result,
	})
}
