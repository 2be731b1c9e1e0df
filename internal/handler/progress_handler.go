// internal/handler/progress_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/progress"
	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

// ProgressSource reports the live stats of an in-process run; *service.Orchestrator implements it.
type ProgressSource interface {
	Progress() *model.CampaignStats
}

// TeaserLister lists upcoming calendar teasers.
type TeaserLister interface {
	ListTeasers(ctx context.Context, from time.Time) ([]trigger.Teaser, error)
}

// Pinger checks a dependency, e.g. *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler serves the read-only operational endpoints.
type OpsHandler struct {
	Live    ProgressSource
	Store   progress.Store
	Metrics *metrics.Collector
	Teasers TeaserLister
	DB      Pinger
	Logger  zerolog.Logger
}

// GetProgressHandler returns the stats of the running campaign, or of the last
// checkpoint when nothing runs in this process.
func (h *OpsHandler) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	if h.Live != nil {
		if stats := h.Live.Progress(); stats != nil {
			writeJSON(w, http.StatusOK, map[string]any{"source": "live", "stats": stats})
			return
		}
	}
	if h.Store == nil {
		http.Error(w, "no campaign progress available", http.StatusNotFound)
		return
	}

	snap, err := h.Store.Load(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("load checkpoint for progress endpoint")
		http.Error(w, "failed to load progress: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "no campaign progress available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   "checkpoint",
		"saved_at": snap.SavedAt,
		"stats":    snap.Stats,
	})
}

// MetricsSummaryHandler returns count, sum and average per metric name over the retained window.
func (h *OpsHandler) MetricsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		writeJSON(w, http.StatusOK, map[string]metrics.Aggregate{})
		return
	}
	writeJSON(w, http.StatusOK, h.Metrics.Summary())
}

// ListTeasersHandler returns the calendar teasers from today on.
func (h *OpsHandler) ListTeasersHandler(w http.ResponseWriter, r *http.Request) {
	if h.Teasers == nil {
		http.Error(w, "teaser calendar not configured", http.StatusNotFound)
		return
	}
	teasers, err := h.Teasers.ListTeasers(r.Context(), time.Now().Truncate(24*time.Hour))
	if err != nil {
		http.Error(w, "failed to fetch teasers: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": teasers})
}

// HealthHandler reports ok, or 503 when the database does not answer.
func (h *OpsHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
