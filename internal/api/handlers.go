package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"integration_syncer/internal/domain"
)

const (
	TriggerHeader    = "X-Sync-Trigger"
	readinessTimeout = 2 * time.Second
	maxRequestBody   = 1 << 20
)

type handlers struct {
	runner    SyncRunner
	readiness Pinger
	logger    *slog.Logger
}

type SyncRequestBody struct {
	TenantID string          `json:"tenantId"`
	SyncType domain.SyncType `json:"syncType"`
}

type SyncResponse struct {
	Success    bool                    `json:"success"`
	ProviderID string                  `json:"providerId"`
	SyncLogID  string                  `json:"syncLogId"`
	Results    []domain.EndpointResult `json:"results"`
	Errors     []domain.EndpointError  `json:"errors,omitempty"`
	SyncedAt   time.Time               `json:"syncedAt"`
	DurationMs int64                   `json:"durationMs"`
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.readiness.PingContext(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			WriteError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	WriteJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *handlers) runSyncs(w http.ResponseWriter, r *http.Request) {
	trigger, ok := parseTrigger(r)
	if !ok {
		WriteError(w, "trigger must be scheduled or manual", http.StatusBadRequest)
		return
	}

	report, err := h.runner.RunScheduledSyncs(r.Context(), trigger)
	if err != nil {
		h.logger.Error("sync run failed", "trigger", trigger, "error", err)
		WriteError(w, "sync run failed", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, report, http.StatusOK)
}

func parseTrigger(r *http.Request) (domain.Trigger, bool) {
	v := r.Header.Get(TriggerHeader)
	if v == "" {
		v = r.URL.Query().Get("trigger")
	}
	switch domain.Trigger(v) {
	case "":
		return domain.TriggerManual, true
	case domain.TriggerScheduled, domain.TriggerManual:
		return domain.Trigger(v), true
	default:
		return "", false
	}
}

func (h *handlers) syncConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	var body SyncRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.TenantID == "" {
		WriteError(w, "tenantId is required", http.StatusBadRequest)
		return
	}
	if body.SyncType == "" {
		body.SyncType = domain.SyncTypeFull
	}
	if !body.SyncType.Valid() {
		WriteError(w, "syncType must be full or incremental", http.StatusBadRequest)
		return
	}

	res, err := h.runner.SyncOne(r.Context(), domain.SyncRequest{
		ConnectionID: connectionID,
		TenantID:     body.TenantID,
		SyncType:     body.SyncType,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("connection sync failed", "connection_id", connectionID, "error", err)
			WriteError(w, "sync failed", status)
			return
		}
		WriteError(w, err.Error(), status)
		return
	}

	WriteJSON(w, SyncResponse{
		Success:    res.Success,
		ProviderID: res.ProviderID,
		SyncLogID:  res.SyncLogID,
		Results:    res.Endpoints,
		Errors:     res.Errors,
		SyncedAt:   res.SyncedAt,
		DurationMs: res.Duration.Milliseconds(),
	}, http.StatusOK)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSyncDisabled), errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
