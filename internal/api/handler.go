package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/executor"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *registry.Registry
	router   *routing.Service
	exec     *executor.Executor
	stats    *stats.Service
	filter   *routing.Filter
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, reg *registry.Registry, router *routing.Service, exec *executor.Executor, statsSvc *stats.Service, filter *routing.Filter, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		registry: reg,
		router:   router,
		exec:     exec,
		stats:    statsSvc,
		filter:   filter,
		version:  version,
	}
}

// SubmitIntent handles POST /intents.
func (h *Handler) SubmitIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency is required",
		})
		return
	}

	intent := req.ToIntent()
	if err := h.repo.SaveIntent(ctx, intent); err != nil {
		slog.Error("failed to save intent", "tx_id", intent.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save intent",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"transactionId": intent.TransactionID,
			"paymentType":   intent.PaymentType,
			"amount":        intent.Amount,
			"currency":      intent.Currency,
		})
		if err := h.bus.Publish(ctx, domain.TopicIntentSubmitted, payload); err != nil {
			slog.Warn("failed to publish intent event", "tx_id", intent.TransactionID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, intent)
}

// GetIntent handles GET /intents/{id}.
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	intent, err := h.repo.GetIntent(r.Context(), txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "intent not found",
			})
			return
		}
		slog.Error("failed to get intent", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get intent",
		})
		return
	}

	writeJSON(w, http.StatusOK, intent)
}

// RecordCompliance handles POST /compliance.
func (h *Handler) RecordCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var decision domain.ComplianceDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if decision.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}
	switch decision.Decision {
	case domain.CompliancePass, domain.ComplianceFail, domain.ComplianceError:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision must be PASS, FAIL, or ERROR",
		})
		return
	}
	if decision.CompliancePenalty < 0 || decision.CompliancePenalty > 100 ||
		decision.RiskScore < 0 || decision.RiskScore > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "compliancePenalty and riskScore must be in [0, 100]",
		})
		return
	}

	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	force := r.URL.Query().Get("force") == "true"
	if force {
		if err := h.repo.DeleteComplianceDecision(ctx, decision.TransactionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to delete compliance decision", "tx_id", decision.TransactionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save compliance decision",
			})
			return
		}
	}

	err := h.repo.SaveComplianceDecision(ctx, &decision)
	if errors.Is(err, domain.ErrComplianceExists) {
		// Re-submission without force returns the stored decision
		// untouched.
		stored, getErr := h.repo.GetComplianceDecision(ctx, decision.TransactionID)
		if getErr != nil {
			slog.Error("failed to get compliance decision", "tx_id", decision.TransactionID, "error", getErr)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save compliance decision",
			})
			return
		}
		writeJSON(w, http.StatusOK, stored)
		return
	}
	if err != nil {
		slog.Error("failed to save compliance decision", "tx_id", decision.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save compliance decision",
		})
		return
	}

	writeJSON(w, http.StatusCreated, decision)
}

// GetCompliance handles GET /compliance/{id}.
func (h *Handler) GetCompliance(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	decision, err := h.repo.GetComplianceDecision(r.Context(), txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "compliance decision not found",
			})
			return
		}
		slog.Error("failed to get compliance decision", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get compliance decision",
		})
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// RouteRequest is the request body for POST /routing-decisions.
type RouteRequest struct {
	TransactionID string                 `json:"transactionId"`
	Weights       *domain.ScoringWeights `json:"weights,omitempty"`
	Force         bool                   `json:"force,omitempty"`
}

// Route handles POST /routing-decisions. Re-posting for the same
// transaction returns the stored decision unless force is set.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid weights: " + err.Error(),
			})
			return
		}
	}

	decision, err := h.router.Decide(ctx, req.TransactionID, req.Weights, req.Force)
	if err != nil {
		if noElig, ok := domain.IsNoEligibleRails(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":          "no eligible rails",
				"filter_reasons": noElig.Reasons,
			})
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("routing failed", "tx_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "routing failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// GetDecision handles GET /routing-decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	decision, err := h.router.Get(r.Context(), txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "routing decision not found",
			})
			return
		}
		slog.Error("failed to get decision", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get decision",
		})
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ExecuteRequest is the request body for POST /executions.
type ExecuteRequest struct {
	TransactionID string `json:"transactionId"`
	ForceRail     string `json:"forceRail,omitempty"`
}

// Execute handles POST /executions. With forceRail set, only that rail
// is attempted and the fallback chain is skipped.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}

	result, err := h.exec.Execute(ctx, req.TransactionID, req.ForceRail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("execution failed", "tx_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "execution failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListRails handles GET /rails.
func (h *Handler) ListRails(w http.ResponseWriter, r *http.Request) {
	rails := h.registry.AllRails()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rails": rails,
		"count": len(rails),
	})
}

// GetRail handles GET /rails/{name}.
func (h *Handler) GetRail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rail, err := h.registry.Rail(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rail not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rail)
}

// CreateRail handles POST /rails. Guard expressions are compiled up
// front so a broken guard is rejected at create time, not at routing
// time.
func (h *Handler) CreateRail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rail domain.RailConfig
	if err := json.NewDecoder(r.Body).Decode(&rail); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rail.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if rail.MaxAmount > 0 && rail.MinAmount > rail.MaxAmount {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "minAmount exceeds maxAmount",
		})
		return
	}
	if rail.Guard != "" && h.filter != nil {
		if err := h.filter.ValidateGuard(rail.Guard); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid guard expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.registry.Register(ctx, &rail); err != nil {
		slog.Error("failed to register rail", "rail", rail.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to register rail",
		})
		return
	}

	slog.Info("rail registered", "rail", rail.Name, "type", rail.Type)
	writeJSON(w, http.StatusCreated, rail)
}

// UpdateRailLimitRequest is the request body for PATCH /rails/{name}/limit.
type UpdateRailLimitRequest struct {
	RemainingAmount float64 `json:"remainingAmount"`
}

// UpdateRailLimit handles PATCH /rails/{name}/limit, an administrative
// override of a rail's remaining daily limit.
func (h *Handler) UpdateRailLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var req UpdateRailLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.RemainingAmount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "remainingAmount cannot be negative",
		})
		return
	}

	rail, err := h.registry.SetRemaining(ctx, name, req.RemainingAmount)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rail not found",
			})
			return
		}
		slog.Error("failed to update rail limit", "rail", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update rail limit",
		})
		return
	}

	writeJSON(w, http.StatusOK, rail)
}

// ResetLimits handles POST /rails/reset-limits, restoring every rail's
// remaining amount to its daily limit.
func (h *Handler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.registry.ResetDailyLimits(ctx); err != nil {
		slog.Error("failed to reset daily limits", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reset daily limits",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"resetAt": time.Now().UTC().Format(time.RFC3339),
		})
		if err := h.bus.Publish(ctx, domain.TopicLimitsReset, payload); err != nil {
			slog.Warn("failed to publish limits reset event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "daily limits reset",
	})
}

// GetRailStats handles GET /rails/{name}/stats.
func (h *Handler) GetRailStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, err := h.registry.Rail(name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rail not found",
		})
		return
	}

	railStats, err := h.stats.Stats(r.Context(), name)
	if err != nil {
		slog.Error("failed to get rail stats", "rail", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rail stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, railStats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
