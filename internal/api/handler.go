package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openreturns/kestrel/internal/domain"
	"github.com/openreturns/kestrel/internal/engine"
	"github.com/openreturns/kestrel/internal/history"
	"github.com/openreturns/kestrel/internal/repository"
)

// policyCacheTTL bounds staleness of the cached active policy.
const policyCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	history *history.Service
	metrics *Metrics
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, hist *history.Service, metrics *Metrics, version string) *Handler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		history: hist,
		metrics: metrics,
		version: version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	ReturnRequest domain.ReturnRequest   `json:"returnRequest"`
	Order         domain.OrderSnapshot   `json:"orderSnapshot"`
	Customer      domain.CustomerContext `json:"customerContext"`

	// Now pins the evaluation clock; omitted means server time. Useful
	// for replaying historical requests against a policy.
	Now *time.Time `json:"now,omitempty"`

	// Async routes the request through the event bus instead of
	// evaluating inline. The response is 202 with the request ID.
	Async bool `json:"async,omitempty"`
}

// Evaluate handles POST /evaluate against the tenant's active policy.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, "")
}

// EvaluateWithPolicy handles POST /policies/{id}/evaluate against a
// specific policy version, active or not.
func (h *Handler) EvaluateWithPolicy(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, policyID string) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ReturnRequest.ID == "" {
		req.ReturnRequest.ID = uuid.New().String()
	}
	req.ReturnRequest.TenantID = tenantID
	if req.ReturnRequest.CreatedAt.IsZero() {
		req.ReturnRequest.CreatedAt = start.UTC()
	}

	// Async dispatch goes through the bus; a worker picks it up.
	if req.Async && policyID == "" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, _ := json.Marshal(map[string]any{
			"tenantId":        tenantID,
			"traceId":         traceID,
			"returnRequest":   req.ReturnRequest,
			"orderSnapshot":   req.Order,
			"customerContext": req.Customer,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicReturnRequested, payload); err != nil {
			slog.Error("failed to publish return request", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue request",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"requestId": req.ReturnRequest.ID,
			"status":    "queued",
		})
		return
	}

	// Load the policy: a named one, or the tenant's active policy via cache.
	var policy *domain.Policy
	var err error
	if policyID != "" {
		policy, err = h.repo.GetPolicy(ctx, tenantID, policyID)
	} else {
		policy, err = h.activePolicy(ctx, tenantID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no matching policy found for tenant",
			})
			return
		}
		slog.Error("failed to load policy", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policy",
		})
		return
	}

	// Caller-supplied fraud-history counters are authoritative. Repository
	// history only fills the gap when the caller tracked none, and a
	// history failure degrades to the caller's numbers.
	customer := req.Customer
	if h.history != nil && req.ReturnRequest.CustomerID != "" &&
		customer.TrailingMonthReturnCount == 0 && customer.TrailingMonthReturnValue == 0 {
		if enriched, herr := h.history.CustomerContext(ctx, tenantID, req.ReturnRequest.CustomerID, start, req.Customer); herr == nil {
			customer = enriched
		}
	}

	now := start.UTC()
	if req.Now != nil && !req.Now.IsZero() {
		now = req.Now.UTC()
	}

	result, err := h.engine.Evaluate(ctx, &engine.Input{
		Policy:   policy,
		Request:  &req.ReturnRequest,
		Order:    req.Order,
		Customer: customer,
		Now:      now,
		TraceID:  traceID,
	})
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}
	result.Metadata.TotalMs = time.Since(start).Milliseconds()

	// Persist the request and evaluation for history and retrieval.
	if h.repo != nil {
		if err := h.repo.SaveReturnRequest(ctx, tenantID, &req.ReturnRequest); err != nil {
			slog.Error("failed to save return request", "error", err)
		}
		if err := h.repo.SaveEvaluation(ctx, tenantID, result); err != nil {
			slog.Error("failed to save evaluation", "error", err)
		}
	}

	h.metrics.ObserveEvaluation(result.Outcome, result.Fraud.Band, result.Fraud.Score, time.Since(start).Seconds())

	// Notify downstream consumers.
	if h.bus != nil {
		payload, _ := json.Marshal(result.ToResponse())
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, payload); err != nil {
			slog.Error("failed to publish evaluation", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// writeEvaluationError maps engine error classes to HTTP statuses:
// malformed input is the caller's fault (400), a malformed policy is the
// tenant configuration's fault (422).
func (h *Handler) writeEvaluationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrConfiguration):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
	}
}

// activePolicy loads the tenant's active policy, cache first.
func (h *Handler) activePolicy(ctx context.Context, tenantID string) (*domain.Policy, error) {
	if h.cache != nil {
		if policy, err := h.cache.GetActivePolicy(ctx, tenantID); err == nil && policy != nil {
			return policy, nil
		}
	}

	policy, err := h.repo.GetActivePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		_ = h.cache.SetActivePolicy(ctx, tenantID, policy, policyCacheTTL)
	}

	return policy, nil
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

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get evaluation", "id", evalID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ============================================================================
// POLICY HANDLERS
// ============================================================================

// ListPolicies returns all policies for the tenant.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policies", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list policies",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
	})
}

// GetPolicy retrieves a policy by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	policy, err := h.repo.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to get policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get policy",
		})
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

// CreatePolicy creates a new policy. Compilation runs first so a policy
// with configuration errors is never persisted.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var policy domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if policy.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	if policy.Version == 0 {
		policy.Version = 1
	}
	policy.TenantID = tenantID

	if _, err := engine.Compile(&policy); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, tenantID, &policy); err != nil {
		slog.Error("failed to save policy", "id", policy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.InvalidateActivePolicy(ctx, tenantID)
	}

	slog.Info("policy created", "id", policy.ID, "name", policy.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, &policy)
}

// UpdatePolicy replaces an existing policy. The version is bumped and the
// new document must compile before it is saved.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	existing, err := h.repo.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to get policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get policy",
		})
		return
	}

	var policy domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	policy.ID = policyID
	policy.TenantID = tenantID
	policy.Version = existing.Version + 1
	policy.CreatedAt = existing.CreatedAt

	if _, err := engine.Compile(&policy); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, tenantID, &policy); err != nil {
		slog.Error("failed to update policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update policy",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.InvalidateActivePolicy(ctx, tenantID)
	}

	slog.Info("policy updated", "id", policyID, "version", policy.Version)
	writeJSON(w, http.StatusOK, &policy)
}

// DeletePolicy removes a policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	if err := h.repo.DeletePolicy(ctx, tenantID, policyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to delete policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete policy",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.InvalidateActivePolicy(ctx, tenantID)
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "policy deleted",
	})
}

// ActivatePolicy makes a policy the tenant's single active one.
func (h *Handler) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	// Activation gates on compilation: broken configs never go live.
	policy, err := h.repo.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to get policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get policy",
		})
		return
	}
	if _, err := engine.Compile(policy); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.ActivatePolicy(ctx, tenantID, policyID); err != nil {
		slog.Error("failed to activate policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to activate policy",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.InvalidateActivePolicy(ctx, tenantID)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"policyId": policyID,
			"tenantId": tenantID,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicPolicyActivated, payload); err != nil {
			slog.Error("failed to publish activation event", "error", err)
		}
	}

	slog.Info("policy activated", "id", policyID, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "policy activated",
		"policyId": policyID,
	})
}

// ValidatePolicy compiles a policy document without persisting it and
// reports every structural problem it finds.
func (h *Handler) ValidatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if _, err := engine.Compile(&policy); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
	})
}
