package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/shrike/internal/behavior"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/merchants"
	"github.com/opensource-finance/shrike/internal/normalize"
	"github.com/opensource-finance/shrike/internal/pipeline"
	"github.com/opensource-finance/shrike/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline  *pipeline.Pipeline
	store     *behavior.Store
	repo      domain.Repository
	merchants *merchants.Service
	bus       domain.EventBus
	cache     domain.Cache
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(p *pipeline.Pipeline, store *behavior.Store, repo domain.Repository, m *merchants.Service, bus domain.EventBus, cache domain.Cache, version string) *Handler {
	return &Handler{
		pipeline:  p,
		store:     store,
		repo:      repo,
		merchants: m,
		bus:       bus,
		cache:     cache,
		version:   version,
	}
}

// Score handles POST /score: synchronous transaction scoring.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawTransaction
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	verdict, err := h.pipeline.Score(r.Context(), &raw)
	if err != nil {
		var malformed *normalize.MalformedError
		if errors.As(err, &malformed) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "malformed transaction",
				"field":  malformed.Field,
				"detail": malformed.Reason,
			})
			return
		}
		slog.Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	if traceID := GetTraceID(r.Context()); traceID != "" && verdict.Metadata.TraceID == "" {
		verdict.Metadata.TraceID = traceID
	}

	writeJSON(w, http.StatusOK, verdict)
}

// GetVerdict handles GET /verdicts/{txId}: audit record retrieval.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	verdict, err := h.repo.GetAuditRecord(r.Context(), txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "verdict not found"})
		return
	}
	if err != nil {
		slog.Error("failed to load verdict", "txId", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}
	if err != nil {
		slog.Error("failed to load transaction", "txId", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts handles GET /alerts?since=RFC3339.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC 3339"})
			return
		}
		since = parsed
	}

	alerts, err := h.repo.ListAlerts(r.Context(), since)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetProfile handles GET /profiles/{userId}: the current behavior baseline.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	profile := h.store.Baseline(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       profile.UserID,
		"count":        profile.Count(),
		"meanAmount":   profile.MeanAmount,
		"stdDevAmount": profile.StdDevAmount,
		"lastSeen":     profile.LastSeen,
		"devices":      len(profile.Devices),
		"ips":          len(profile.IPs),
	})
}

// MerchantRiskRequest is the request body for PUT /merchants/{id}/risk.
type MerchantRiskRequest struct {
	Score *float64 `json:"score"`
}

// SetMerchantRisk handles PUT /merchants/{id}/risk.
func (h *Handler) SetMerchantRisk(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	var req MerchantRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Score == nil || *req.Score < 0 || *req.Score > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "score must be in [0,1]"})
		return
	}

	if err := h.merchants.SetRisk(r.Context(), merchantID, *req.Score); err != nil {
		slog.Error("failed to set merchant risk", "merchantId", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchantId": merchantID,
		"score":      *req.Score,
	})
}

// GetMerchantRisk handles GET /merchants/{id}/risk.
func (h *Handler) GetMerchantRisk(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "id")

	score, known, err := h.merchants.Risk(r.Context(), merchantID)
	if err != nil {
		slog.Error("failed to get merchant risk", "merchantId", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "merchant not in registry"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchantId": merchantID,
		"score":      score,
	})
}

// ListMerchants handles GET /merchants.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	risks, err := h.merchants.List(r.Context())
	if err != nil {
		slog.Error("failed to list merchants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchants": risks,
		"count":     len(risks),
	})
}

// Health handles GET /health: liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready: readiness including dependency checks.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["repository"] = err.Error()
		healthy = false
	} else {
		checks["repository"] = "ok"
	}
	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	} else {
		checks["cache"] = "ok"
	}
	if err := h.bus.Ping(ctx); err != nil {
		checks["eventBus"] = err.Error()
		healthy = false
	} else {
		checks["eventBus"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  healthy,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
