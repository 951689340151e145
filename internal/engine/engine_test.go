package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// basePolicy is a permissive baseline the scenario tests tighten one knob
// at a time.
func basePolicy() *domain.Policy {
	return &domain.Policy{
		ID:       "pol-base",
		TenantID: "tenant-001",
		Name:     "baseline",
		Zones: []domain.PolicyZone{
			{
				ZoneName:             "domestic",
				CountriesIncluded:    []string{"US"},
				DestinationWarehouse: "wh-east",
			},
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

func baseInput(p *domain.Policy) *Input {
	return &Input{
		Policy: p,
		Request: &domain.ReturnRequest{
			ID:         "ret-001",
			TenantID:   "tenant-001",
			OrderID:    "order-001",
			CustomerID: "cust-001",
			Items: []domain.ReturnItem{
				{SKU: "SKU-1", Category: "apparel", Quantity: 1, UnitPrice: 49.99, Reason: "changed_mind"},
			},
			Destination: domain.Location{Country: "US", State: "NY", PostalCode: "10001"},
			CreatedAt:   testNow,
		},
		Order: domain.OrderSnapshot{
			CreatedAt:  testNow.AddDate(0, 0, -5),
			TotalPrice: 49.99,
		},
		Now:     testNow,
		TraceID: "trace-001",
	}
}

func evaluate(t *testing.T, in *Input) *domain.EvaluationResult {
	t.Helper()
	result, err := New(nil).Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestEvaluateApproved(t *testing.T) {
	result := evaluate(t, baseInput(basePolicy()))

	if result.Outcome != domain.OutcomeApproved {
		t.Errorf("expected approved, got %s (%v)", result.Outcome, result.Reasons)
	}
	if result.Zone.ZoneName != "domestic" {
		t.Errorf("expected domestic zone, got %s", result.Zone.ZoneName)
	}
	if result.Zone.Default {
		t.Error("US destination should match directly, not via default")
	}
	if len(result.Items) != 1 || !result.Items[0].Returnable || !result.Items[0].WithinWindow {
		t.Errorf("expected one returnable in-window item, got %+v", result.Items)
	}
	if len(result.Resolutions) != 1 || result.Resolutions[0].Type != domain.ResolutionRefund {
		t.Errorf("expected a single refund candidate, got %+v", result.Resolutions)
	}
	if result.Resolutions[0].Amount != 49.99 {
		t.Errorf("expected full refund 49.99, got %.2f", result.Resolutions[0].Amount)
	}
	if result.Metadata.EngineVersion != EngineVersion {
		t.Errorf("expected engine version in metadata, got %q", result.Metadata.EngineVersion)
	}
}

func TestEvaluateExpiredWindow(t *testing.T) {
	in := baseInput(basePolicy())
	in.Order.CreatedAt = testNow.AddDate(0, 0, -40)

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeRejected {
		t.Errorf("expected rejected for 40-day-old order against 30-day window, got %s", result.Outcome)
	}
	if result.Items[0].WithinWindow {
		t.Error("item should be past its window")
	}
	// Expired requests still carry diagnostic verdicts and candidates are
	// suppressed for the out-of-window subset.
	if len(result.Resolutions) != 0 {
		t.Errorf("expected no resolutions for expired return, got %+v", result.Resolutions)
	}
}

func TestEvaluateDeadlineDayInclusive(t *testing.T) {
	in := baseInput(basePolicy())
	in.Order.CreatedAt = testNow.AddDate(0, 0, -30)

	result := evaluate(t, in)
	if result.Outcome != domain.OutcomeApproved {
		t.Errorf("return on the deadline date itself must be within window, got %s", result.Outcome)
	}

	in.Order.CreatedAt = testNow.AddDate(0, 0, -31)
	result = evaluate(t, in)
	if result.Outcome != domain.OutcomeRejected {
		t.Errorf("one day past deadline must reject, got %s", result.Outcome)
	}
}

func TestEvaluateFinalSaleTag(t *testing.T) {
	p := basePolicy()
	p.ProductEligibility.TagRules.FinalSaleTags = []string{"final_sale"}

	in := baseInput(p)
	in.Request.Items[0].Tags = []string{"final_sale"}

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeRejected {
		t.Errorf("expected rejected for final_sale item, got %s", result.Outcome)
	}
	if result.Items[0].Returnable {
		t.Error("final_sale item must not be returnable")
	}
}

func TestEvaluateHighValueReview(t *testing.T) {
	p := basePolicy()
	p.ProductEligibility.ValueRules.HighValueManualReview = true
	p.ProductEligibility.ValueRules.HighValueThreshold = 500

	in := baseInput(p)
	in.Request.Items[0].UnitPrice = 600
	in.Order.TotalPrice = 600

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected manual_review for $600 item over $500 threshold, got %s", result.Outcome)
	}
	if !result.Items[0].HighValue {
		t.Error("item should be flagged high value")
	}
	// High value forces review but the item stays returnable with candidates.
	if len(result.Resolutions) == 0 {
		t.Error("high value review should still compute resolutions")
	}
}

func TestEvaluateHighValueReviewAppliesToExpeditedItems(t *testing.T) {
	p := basePolicy()
	p.ProductEligibility.TagRules.ExpeditedTags = []string{"vip_line"}
	p.ProductEligibility.ValueRules.HighValueManualReview = true
	p.ProductEligibility.ValueRules.HighValueThreshold = 500

	in := baseInput(p)
	in.Request.Items[0].Tags = []string{"vip_line"}
	in.Request.Items[0].UnitPrice = 600
	in.Order.TotalPrice = 600

	result := evaluate(t, in)

	if !result.Items[0].Expedited || !result.Items[0].HighValue {
		t.Fatalf("expected expedited high-value item, got %+v", result.Items[0])
	}
	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expedited tag must not exempt a $600 item from high-value review, got %s", result.Outcome)
	}
}

func TestEvaluateRestockingFeeWaivedForDefective(t *testing.T) {
	p := basePolicy()
	p.RefundSettings.RestockingFee = domain.RestockingFee{
		Enabled:           true,
		Type:              domain.FeeFlat,
		Amount:            15,
		WaiveForDefective: true,
	}

	in := baseInput(p)
	in.Request.Items[0].Reason = "defective"

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeApproved {
		t.Fatalf("expected approved, got %s (%v)", result.Outcome, result.Reasons)
	}
	refund := result.Resolutions[0]
	if refund.Amount != 49.99 {
		t.Errorf("expected fee waived for defective item, got refund %.2f", refund.Amount)
	}
	if len(refund.Deductions) != 0 {
		t.Errorf("expected no deductions, got %+v", refund.Deductions)
	}

	// The fee applies for any other reason.
	in.Request.Items[0].Reason = "changed_mind"
	result = evaluate(t, in)
	refund = result.Resolutions[0]
	if refund.Amount != 34.99 {
		t.Errorf("expected 49.99 - 15.00 fee = 34.99, got %.2f", refund.Amount)
	}
}

func TestEvaluateCapsFloorAtManualReview(t *testing.T) {
	p := basePolicy()
	p.FraudDetection = domain.FraudDetection{
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

	in := baseInput(p)
	in.Customer.TrailingMonthReturnCount = 11

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("breached return cap must floor at manual_review, got %s (%v)", result.Outcome, result.Reasons)
	}
	if !result.Fraud.CapsExceeded {
		t.Error("expected caps_exceeded flag")
	}
	if result.Fraud.Action != domain.ActionManualReview {
		t.Errorf("expected escalated action, got band %q action %q", result.Fraud.Band, result.Fraud.Action)
	}

	// Under the cap, the same policy auto-approves.
	in.Customer.TrailingMonthReturnCount = 2
	result = evaluate(t, in)
	if result.Outcome != domain.OutcomeApproved {
		t.Errorf("expected approved under cap, got %s (%v)", result.Outcome, result.Reasons)
	}
}

func TestEvaluateZoneBypassManualReview(t *testing.T) {
	p := basePolicy()
	p.Zones[0].BypassManualReview = true
	p.FraudDetection = domain.FraudDetection{
		Enabled: true,
		RiskScoring: domain.RiskScoring{
			Thresholds: map[string]string{"low": "0-30", "high": "31-100"},
			Actions: map[string]string{
				"low":  domain.ActionAutoApprove,
				"high": domain.ActionManualReview,
			},
		},
	}

	// High trailing value pushes the score into the review band.
	in := baseInput(p)
	in.Customer.TrailingMonthReturnCount = 9

	result := evaluate(t, in)

	if result.Outcome != domain.OutcomeApproved {
		t.Errorf("zone bypass should downgrade a band review, got %s (%v)", result.Outcome, result.Reasons)
	}

	// The bypass never covers a caps breach.
	p.FraudDetection.BehavioralPatterns.MaxReturnsPerMonth = 5
	in = baseInput(p)
	in.Customer.TrailingMonthReturnCount = 6

	result = evaluate(t, in)
	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("caps breach must survive zone bypass, got %s", result.Outcome)
	}
}

func TestEvaluateLoyaltyExtensionMonotonic(t *testing.T) {
	p := basePolicy()
	p.ReturnWindows.ExtendedWindows.LoyaltyMemberExtension = domain.LoyaltyMemberExtension{
		Enabled:  true,
		TierDays: map[string]int{"silver": 5, "gold": 15},
	}

	in := baseInput(p)
	in.Order.CreatedAt = testNow.AddDate(0, 0, -40)

	// 40 days out: base 30 rejects, gold's +15 admits.
	tiers := []struct {
		tier string
		want string
	}{
		{"", domain.OutcomeRejected},
		{"silver", domain.OutcomeRejected},
		{"gold", domain.OutcomeApproved},
	}
	for _, tt := range tiers {
		in.Customer.LoyaltyTier = tt.tier
		result := evaluate(t, in)
		if result.Outcome != tt.want {
			t.Errorf("tier %q: expected %s, got %s", tt.tier, tt.want, result.Outcome)
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	in := baseInput(basePolicy())

	first := evaluate(t, in)
	second := evaluate(t, in)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("same input must produce byte-identical results:\n%s\n%s", a, b)
	}
	if first.ID != second.ID {
		t.Errorf("evaluation ID must be stable, got %s and %s", first.ID, second.ID)
	}
}

func TestEvaluateDoesNotMutatePolicy(t *testing.T) {
	policy := basePolicy()
	before, _ := json.Marshal(policy)

	evaluate(t, baseInput(policy))

	after, _ := json.Marshal(policy)
	if string(before) != string(after) {
		t.Errorf("evaluation mutated the policy:\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestEvaluateInvalidInput(t *testing.T) {
	eng := New(nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"NilPolicy", func(in *Input) { in.Policy = nil }},
		{"NilRequest", func(in *Input) { in.Request = nil }},
		{"NoOrderID", func(in *Input) { in.Request.OrderID = "" }},
		{"NoItems", func(in *Input) { in.Request.Items = nil }},
		{"NoCountry", func(in *Input) { in.Request.Destination.Country = "" }},
		{"NoOrderDate", func(in *Input) { in.Order.CreatedAt = time.Time{} }},
		{"NoNow", func(in *Input) { in.Now = time.Time{} }},
		{"NoSKU", func(in *Input) { in.Request.Items[0].SKU = "" }},
		{"ZeroQuantity", func(in *Input) { in.Request.Items[0].Quantity = 0 }},
		{"NegativePrice", func(in *Input) { in.Request.Items[0].UnitPrice = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput(basePolicy())
			tt.mutate(in)
			_, err := eng.Evaluate(ctx, in)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestEvaluateConfigurationError(t *testing.T) {
	p := basePolicy()
	p.DefaultZone = ""
	p.Zones[0].CountriesIncluded = []string{"CA"}

	in := baseInput(p)
	_, err := New(nil).Evaluate(context.Background(), in)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unmatched location with no default zone must be a configuration error, got %v", err)
	}
}

func TestEvaluateMixedItems(t *testing.T) {
	p := basePolicy()
	p.ProductEligibility.TagRules.NonReturnableTags = []string{"hygiene"}

	in := baseInput(p)
	in.Request.Items = []domain.ReturnItem{
		{SKU: "SKU-1", Quantity: 1, UnitPrice: 30, Reason: "changed_mind"},
		{SKU: "SKU-2", Quantity: 1, UnitPrice: 20, Reason: "changed_mind", Tags: []string{"hygiene"}},
	}

	result := evaluate(t, in)

	// One returnable item keeps the request alive.
	if result.Outcome != domain.OutcomeApproved {
		t.Errorf("expected approved with one eligible item, got %s (%v)", result.Outcome, result.Reasons)
	}
	if result.Items[1].Returnable {
		t.Error("hygiene-tagged item must not be returnable")
	}
	// The refund covers only the eligible subset.
	if result.Resolutions[0].Amount != 30 {
		t.Errorf("expected refund for eligible subset only, got %.2f", result.Resolutions[0].Amount)
	}
}
