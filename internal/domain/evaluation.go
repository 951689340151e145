package domain

import (
	"time"
)

// Evaluation outcomes, in ascending severity.
const (
	OutcomeApproved     = "approved"
	OutcomeManualReview = "manual_review"
	OutcomeRejected     = "rejected"
)

// Resolution types.
const (
	ResolutionRefund      = "refund"
	ResolutionExchange    = "exchange"
	ResolutionStoreCredit = "store_credit"
)

// Fraud actions.
const (
	ActionAutoApprove    = "auto_approve"
	ActionManualReview   = "manual_review"
	ActionRequireReceipt = "require_receipt"
	ActionReject         = "reject"
)

var outcomeSeverity = map[string]int{
	OutcomeApproved:     0,
	OutcomeManualReview: 1,
	OutcomeRejected:     2,
}

// MergeOutcome returns the more severe of two outcomes:
// rejected > manual_review > approved.
func MergeOutcome(a, b string) string {
	if outcomeSeverity[b] > outcomeSeverity[a] {
		return b
	}
	return a
}

// EvaluationResult is the complete output of one evaluation call.
// Produced fresh per call; the engine never persists it.
type EvaluationResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	PolicyID string `json:"policyId"`
	OrderID  string `json:"orderId"`

	Outcome string   `json:"outcome"`
	Reasons []string `json:"reasons,omitempty"`

	Zone        ZoneDecision          `json:"zone"`
	Items       []ItemVerdict         `json:"items"`
	Resolutions []ResolutionCandidate `json:"resolutions,omitempty"`
	Fraud       FraudDecision         `json:"fraud"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  EvaluationMetadata `json:"metadata"`
}

// ZoneDecision records the outcome of zone resolution.
type ZoneDecision struct {
	Matched  bool   `json:"matched"`
	ZoneName string `json:"zoneName,omitempty"`
	Default  bool   `json:"default,omitempty"` // fell back to the default zone

	DestinationWarehouse string `json:"destinationWarehouse,omitempty"`
	Carrier              string `json:"carrier,omitempty"`

	GenerateLabels       bool `json:"generateLabels,omitempty"`
	GeneratePackingSlips bool `json:"generatePackingSlips,omitempty"`
	BypassManualReview   bool `json:"bypassManualReview,omitempty"`
	CustomsHandling      bool `json:"customsHandling,omitempty"`
}

// ItemVerdict is the per-line eligibility and window decision.
type ItemVerdict struct {
	SKU string `json:"sku"`

	Returnable   bool `json:"returnable"`
	ExchangeOnly bool `json:"exchangeOnly,omitempty"`
	Expedited    bool `json:"expedited,omitempty"`
	HighValue    bool `json:"highValue,omitempty"`

	WithinWindow    bool      `json:"withinWindow"`
	AllowedDays     int       `json:"allowedDays"`
	WindowAuthority string    `json:"windowAuthority,omitempty"` // rule that set the base days
	Deadline        time.Time `json:"deadline,omitempty"`

	Reasons []string `json:"reasons,omitempty"`
}

// ResolutionCandidate is one settlement option computed for the eligible
// item subset. All enabled, eligible types are returned; picking one is a
// downstream decision.
type ResolutionCandidate struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`

	Deductions []FeeLine `json:"deductions,omitempty"`
	Bonus      float64   `json:"bonus,omitempty"`

	Exchange *ExchangeTerms `json:"exchange,omitempty"`
}

// FeeLine is one named deduction applied to a resolution amount.
type FeeLine struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// ExchangeTerms describe the replacement offered for an exchange.
type ExchangeTerms struct {
	AllowedTypes []string `json:"allowedTypes"`

	Instant             bool   `json:"instant,omitempty"`
	AuthorizationMethod string `json:"authorizationMethod,omitempty"`
	ReturnDeadlineDays  int    `json:"returnDeadlineDays,omitempty"`
}

// FraudDecision records the risk gate's verdict.
type FraudDecision struct {
	Score  float64 `json:"score"`
	Band   string  `json:"band,omitempty"`
	Action string  `json:"action,omitempty"`

	CapsExceeded bool `json:"capsExceeded,omitempty"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	TotalMs       int64  `json:"totalMs"`
	ItemsChecked  int    `json:"itemsChecked"`
	EngineVersion string `json:"engineVersion"`
}

// EvaluationResponse is the API shape for an evaluation.
type EvaluationResponse struct {
	EvaluationID string                `json:"evaluationId"`
	PolicyID     string                `json:"policyId"`
	Outcome      string                `json:"outcome"`
	Reasons      []string              `json:"reasons,omitempty"`
	Zone         ZoneDecision          `json:"zone"`
	Items        []ItemVerdict         `json:"items"`
	Resolutions  []ResolutionCandidate `json:"resolutions,omitempty"`
	Fraud        FraudDecision         `json:"fraud"`
	Metadata     EvaluationMetadata    `json:"metadata"`
}

// ToResponse converts an EvaluationResult to its API shape.
func (r *EvaluationResult) ToResponse() *EvaluationResponse {
	return &EvaluationResponse{
		EvaluationID: r.ID,
		PolicyID:     r.PolicyID,
		Outcome:      r.Outcome,
		Reasons:      r.Reasons,
		Zone:         r.Zone,
		Items:        r.Items,
		Resolutions:  r.Resolutions,
		Fraud:        r.Fraud,
		Metadata:     r.Metadata,
	}
}
