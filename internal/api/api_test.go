package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/openreturns/kestrel/internal/bus"
	"github.com/openreturns/kestrel/internal/cache"
	"github.com/openreturns/kestrel/internal/domain"
	"github.com/openreturns/kestrel/internal/engine"
	"github.com/openreturns/kestrel/internal/history"
	"github.com/openreturns/kestrel/internal/repository"
)

// createTestServer creates a server with a sqlite repository, LRU cache,
// and channel bus for testing.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	eng := engine.New(nil)
	hist := history.NewService(repo, lru)

	return NewServer(cfg, repo, lru, eventBus, eng, hist, nil, "test-v1")
}

func apiPolicy(id string, active bool) *domain.Policy {
	return &domain.Policy{
		ID:       id,
		Name:     "standard returns",
		IsActive: active,
		Zones: []domain.PolicyZone{
			{ZoneName: "domestic", CountriesIncluded: []string{"US"}, DestinationWarehouse: "wh-east"},
		},
		DefaultZone: "domestic",
		ReturnWindows: domain.ReturnWindows{
			StandardWindow: domain.StandardWindow{
				Type:            domain.WindowLimited,
				Days:            30,
				CalculationFrom: domain.FromOrderDate,
			},
		},
		RefundSettings: domain.RefundSettings{Enabled: true},
	}
}

func evaluateBody(now time.Time) EvaluateRequest {
	return EvaluateRequest{
		ReturnRequest: domain.ReturnRequest{
			ID:         "ret-001",
			OrderID:    "order-001",
			CustomerID: "cust-001",
			Items: []domain.ReturnItem{
				{SKU: "SKU-1", Quantity: 1, UnitPrice: 49.99, Reason: "changed_mind"},
			},
			Destination: domain.Location{Country: "US", State: "NY", PostalCode: "10001"},
			CreatedAt:   now,
		},
		Order: domain.OrderSnapshot{
			CreatedAt:  now.Add(-5 * 24 * time.Hour),
			TotalPrice: 49.99,
		},
	}
}

func doRequest(t *testing.T, server *Server, method, path string, body any, tenantID string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)
	tenantID := "tenant-001"
	now := time.Now().UTC()

	rr := doRequest(t, server, http.MethodPost, "/policies", apiPolicy("pol-001", true), tenantID)
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create policy: %d: %s", rr.Code, rr.Body.String())
	}

	t.Run("SuccessfulEvaluation", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/evaluate", evaluateBody(now), tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EvaluationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.EvaluationID == "" {
			t.Error("expected evaluationId in response")
		}
		if resp.Outcome != domain.OutcomeApproved {
			t.Errorf("expected approved, got %s (%v)", resp.Outcome, resp.Reasons)
		}
		if resp.PolicyID != "pol-001" {
			t.Errorf("expected policyId pol-001, got %s", resp.PolicyID)
		}
		if resp.Zone.ZoneName != "domestic" {
			t.Errorf("expected domestic zone, got %s", resp.Zone.ZoneName)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}

		// The evaluation must be retrievable afterwards
		rr = doRequest(t, server, http.MethodGet, "/evaluations/"+resp.EvaluationID, nil, tenantID)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 on retrieval, got %d", rr.Code)
		}
	})

	t.Run("EvaluateAgainstNamedPolicy", func(t *testing.T) {
		// Inactive draft policy with a tighter window
		draft := apiPolicy("pol-draft", false)
		draft.ReturnWindows.StandardWindow.Days = 3
		rr := doRequest(t, server, http.MethodPost, "/policies", draft, tenantID)
		if rr.Code != http.StatusCreated {
			t.Fatalf("failed to create draft policy: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodPost, "/policies/pol-draft/evaluate", evaluateBody(now), tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EvaluationResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		// Order is 5 days old, draft window is 3 days
		if resp.Outcome != domain.OutcomeRejected {
			t.Errorf("expected rejected under draft policy, got %s", resp.Outcome)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/evaluate", evaluateBody(now), "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/evaluate", "not-json", tenantID)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		body := evaluateBody(now)
		body.ReturnRequest.Items = nil
		rr := doRequest(t, server, http.MethodPost, "/evaluate", body, tenantID)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for empty items, got %d", rr.Code)
		}
	})

	t.Run("NoPolicyForTenant", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/evaluate", evaluateBody(now), "tenant-empty")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("AsyncAccepted", func(t *testing.T) {
		body := evaluateBody(now)
		body.Async = true
		rr := doRequest(t, server, http.MethodPost, "/evaluate", body, tenantID)
		if rr.Code != http.StatusAccepted {
			t.Errorf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
	})

}

// Counters reported by the caller must drive fraud scoring as-is. An
// empty repository has no history for the customer, so a regression that
// overwrites the payload's counters would zero them and auto-approve.
func TestEvaluateUsesCallerReportedHistory(t *testing.T) {
	server := createTestServer(t)
	tenantID := "tenant-003"
	now := time.Now().UTC()

	policy := apiPolicy("pol-fraud", true)
	policy.FraudDetection = domain.FraudDetection{
		Enabled: true,
		RiskScoring: domain.RiskScoring{
			Thresholds: map[string]string{"low": "0-60", "high": "61-100"},
			Actions: map[string]string{
				"low":  domain.ActionAutoApprove,
				"high": domain.ActionManualReview,
			},
		},
		BehavioralPatterns: domain.BehavioralPatterns{MaxReturnsPerMonth: 10},
	}
	rr := doRequest(t, server, http.MethodPost, "/policies", policy, tenantID)
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create policy: %d: %s", rr.Code, rr.Body.String())
	}

	body := evaluateBody(now)
	body.Customer = domain.CustomerContext{TrailingMonthReturnCount: 11}
	rr = doRequest(t, server, http.MethodPost, "/evaluate", body, tenantID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.EvaluationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Fraud.CapsExceeded {
		t.Error("11 reported returns against a cap of 10 should exceed caps")
	}
	if resp.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected manual_review for breached cap, got %s (%v)", resp.Outcome, resp.Reasons)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer(t)
	tenantID := "tenant-002"

	t.Run("CreateAndGet", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/policies", apiPolicy("pol-100", false), tenantID)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/policies/pol-100", nil, tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var policy domain.Policy
		json.Unmarshal(rr.Body.Bytes(), &policy)
		if policy.Name != "standard returns" {
			t.Errorf("expected name, got %q", policy.Name)
		}
		if policy.Version != 1 {
			t.Errorf("expected version 1, got %d", policy.Version)
		}
	})

	t.Run("RejectsMisconfiguredPolicy", func(t *testing.T) {
		bad := apiPolicy("pol-bad", false)
		bad.DefaultZone = "nonexistent"
		rr := doRequest(t, server, http.MethodPost, "/policies", bad, tenantID)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Update", func(t *testing.T) {
		updated := apiPolicy("pol-100", false)
		updated.Name = "holiday returns"
		rr := doRequest(t, server, http.MethodPut, "/policies/pol-100", updated, tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var policy domain.Policy
		json.Unmarshal(rr.Body.Bytes(), &policy)
		if policy.Version != 2 {
			t.Errorf("expected version bump to 2, got %d", policy.Version)
		}
		if policy.Name != "holiday returns" {
			t.Errorf("expected updated name, got %q", policy.Name)
		}
	})

	t.Run("Activate", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/policies/pol-100/activate", nil, tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/policies/pol-100", nil, tenantID)
		var policy domain.Policy
		json.Unmarshal(rr.Body.Bytes(), &policy)
		if !policy.IsActive {
			t.Error("expected policy to be active after activation")
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/policies", nil, tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 policy, got %d", resp.Count)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/policies/validate", apiPolicy("pol-check", false), tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Valid {
			t.Errorf("expected valid policy, got error %q", resp.Error)
		}

		bad := apiPolicy("pol-check", false)
		bad.ReturnWindows.StandardWindow.Days = 0
		rr = doRequest(t, server, http.MethodPost, "/policies/validate", bad, tenantID)
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Valid {
			t.Error("expected invalid policy for zero-day limited window")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodDelete, "/policies/pol-100", nil, tenantID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodGet, "/policies/pol-100", nil, tenantID)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		doRequest(t, server, http.MethodPost, "/policies", apiPolicy("pol-iso", false), "tenant-a")

		rr := doRequest(t, server, http.MethodGet, "/policies/pol-iso", nil, "tenant-b")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 across tenants, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", nil, "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/metrics", nil, "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		// The earlier health requests passed through the counting
		// middleware, so the scrape must carry request totals.
		if !strings.Contains(rr.Body.String(), "kestrel_http_requests_total") {
			t.Error("expected kestrel_http_requests_total in metrics output")
		}
	})
}

func TestGetEvaluationNotFound(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/evaluations/nonexistent", nil, "tenant-001")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
