// Package engine implements the policy evaluation engine: given a tenant's
// policy, a return request, its originating order, and a customer context,
// it deterministically classifies the request and computes candidate
// resolutions.
//
// The engine is stateless and pure with respect to its inputs. "Now" and the
// fraud-history snapshot are explicit inputs, never read from ambient clocks
// or stores, so concurrent evaluations are reproducible.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openreturns/kestrel/internal/domain"
	"github.com/openreturns/kestrel/internal/fraud"
)

// EngineVersion is recorded in every result's metadata.
const EngineVersion = "kestrel-1.0"

// Engine evaluates return requests against compiled policies.
type Engine struct {
	scorer fraud.Scorer
}

// New creates an engine with the given fraud scorer. A nil scorer selects
// the default weighted scorer; a policy's own score expression still takes
// precedence per evaluation.
func New(scorer fraud.Scorer) *Engine {
	if scorer == nil {
		scorer = fraud.NewWeightedScorer()
	}
	return &Engine{scorer: scorer}
}

// Input is the full contract for one evaluation call.
type Input struct {
	Policy   *domain.Policy
	Request  *domain.ReturnRequest
	Order    domain.OrderSnapshot
	Customer domain.CustomerContext

	// Now is the evaluation timestamp, injected for testability.
	Now time.Time

	TraceID string
}

// Evaluate runs the full pipeline:
//
//	zone → window → eligibility → resolutions → fraud → finalize
//
// Every stage runs even after an early forced outcome so the result carries
// full diagnostic detail; the most severe outcome wins
// (rejected > manual_review > approved). Configuration and input errors
// abort with no partial result; policy violations are outcomes, not errors.
func (e *Engine) Evaluate(ctx context.Context, in *Input) (*domain.EvaluationResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	cp, err := Compile(in.Policy)
	if err != nil {
		return nil, err
	}

	return e.EvaluateCompiled(ctx, cp, in)
}

// EvaluateCompiled evaluates against an already-compiled policy, letting
// callers amortize compilation across requests.
func (e *Engine) EvaluateCompiled(ctx context.Context, cp *CompiledPolicy, in *Input) (*domain.EvaluationResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome := domain.OutcomeApproved
	var reasons []string

	// Zone resolution: first declared match wins, default as fallback.
	zone, err := resolveZone(cp, in.Request.Destination)
	if err != nil {
		return nil, err
	}

	// Window and eligibility, per item.
	verdicts := make([]domain.ItemVerdict, len(in.Request.Items))
	var total float64
	anyWithinWindow := false
	anyReturnable := false

	for i, item := range in.Request.Items {
		total += item.LineValue()

		elig := evaluateEligibility(cp, item)
		win := resolveWindow(cp, item, in.Order, in.Customer, in.Now)

		v := domain.ItemVerdict{
			SKU:             item.SKU,
			Returnable:      elig.returnable,
			ExchangeOnly:    elig.exchangeOnly,
			Expedited:       elig.expedited,
			HighValue:       highValue(cp, item),
			WithinWindow:    win.within,
			AllowedDays:     win.allowedDays,
			WindowAuthority: win.authority,
			Deadline:        win.deadline,
			Reasons:         elig.reasons,
		}
		if elig.returnable && !win.within {
			v.Reasons = append(v.Reasons, windowExpiredReason(win))
		}
		verdicts[i] = v

		if elig.returnable {
			anyReturnable = true
			if win.within {
				anyWithinWindow = true
			}
		}

		// High-value review is mandatory; no tag exempts an item from it.
		if v.HighValue {
			outcome = domain.MergeOutcome(outcome, domain.OutcomeManualReview)
			reasons = append(reasons, fmt.Sprintf("item %s value %.2f requires manual review", item.SKU, item.LineValue()))
		}
	}

	total = round2(total)

	if !anyReturnable {
		outcome = domain.MergeOutcome(outcome, domain.OutcomeRejected)
		reasons = append(reasons, "no item in the request is returnable")
	} else if !anyWithinWindow {
		outcome = domain.MergeOutcome(outcome, domain.OutcomeRejected)
		reasons = append(reasons, "return window expired for every returnable item")
	}

	if reason, ok := valueGate(cp, total); !ok {
		outcome = domain.MergeOutcome(outcome, domain.OutcomeRejected)
		reasons = append(reasons, reason)
	}

	// Resolutions are computed even for rejected requests: the result is
	// diagnostic, and a downstream override can reuse the amounts.
	resolutions := computeResolutions(cp, in.Request, in.Order, verdicts, zone)

	fraudDecision, fraudOutcome, fraudReasons, err := e.scoreFraud(cp, in, total)
	if err != nil {
		return nil, err
	}

	// A zone's bypass flag downgrades a band-derived review, never a
	// caps-forced one and never a rejection.
	if fraudOutcome == domain.OutcomeManualReview && zone.BypassManualReview && !fraudDecision.CapsExceeded {
		fraudOutcome = domain.OutcomeApproved
		fraudReasons = nil
	}
	outcome = domain.MergeOutcome(outcome, fraudOutcome)
	reasons = append(reasons, fraudReasons...)

	result := &domain.EvaluationResult{
		ID:          evaluationID(in),
		TenantID:    in.Request.TenantID,
		PolicyID:    in.Policy.ID,
		OrderID:     in.Request.OrderID,
		Outcome:     outcome,
		Reasons:     reasons,
		Zone:        zone,
		Items:       verdicts,
		Resolutions: resolutions,
		Fraud:       fraudDecision,
		Timestamp:   in.Now.UTC(),
		Metadata: domain.EvaluationMetadata{
			TraceID:       in.TraceID,
			ItemsChecked:  len(verdicts),
			EngineVersion: EngineVersion,
		},
	}

	return result, nil
}

// scoreFraud runs the risk gate: score via the injected (or policy-level)
// scorer, map the score to a band, the band to an action, and floor the
// action at manual_review when behavioral caps are breached.
func (e *Engine) scoreFraud(cp *CompiledPolicy, in *Input, total float64) (domain.FraudDecision, string, []string, error) {
	f := cp.Policy.FraudDetection
	if !f.Enabled || len(cp.Bands) == 0 {
		return domain.FraudDecision{}, domain.OutcomeApproved, nil, nil
	}

	scorerInput := &fraud.Input{
		ReturnCount:            in.Customer.TrailingMonthReturnCount,
		ReturnValue:            in.Customer.TrailingMonthReturnValue,
		MaxReturnsPerMonth:     f.BehavioralPatterns.MaxReturnsPerMonth,
		MaxReturnValuePerMonth: f.BehavioralPatterns.MaxReturnValuePerMonth,
		RequestValue:           total,
		OrderTotal:             in.Order.TotalPrice,
		AccountAgeDays:         in.Customer.AccountAgeDays,
		FirstTimeBuyer:         in.Customer.IsFirstTimeBuyer,
	}

	scorer := e.scorer
	if cp.Scorer != nil {
		scorer = cp.Scorer
	}

	score, err := scorer.Score(scorerInput)
	if err != nil {
		return domain.FraudDecision{}, "", nil, fmt.Errorf("fraud scoring: %w", err)
	}

	band, _ := fraud.MatchBand(score, cp.Bands)

	decision := domain.FraudDecision{
		Score:        round2(score),
		Band:         band.Name,
		Action:       band.Action,
		CapsExceeded: scorerInput.CapsExceeded(),
	}

	// Cap breaches escalate to at least manual_review; they never downgrade
	// a reject.
	if decision.CapsExceeded && decision.Action == domain.ActionAutoApprove {
		decision.Action = domain.ActionManualReview
	}

	var outcome string
	var reasons []string
	switch decision.Action {
	case domain.ActionReject:
		outcome = domain.OutcomeRejected
		reasons = append(reasons, fmt.Sprintf("fraud risk score %.0f in band %q: rejected", decision.Score, decision.Band))
	case domain.ActionManualReview:
		outcome = domain.OutcomeManualReview
		reasons = append(reasons, fmt.Sprintf("fraud risk score %.0f in band %q: manual review", decision.Score, decision.Band))
	case domain.ActionRequireReceipt:
		outcome = domain.OutcomeManualReview
		reasons = append(reasons, fmt.Sprintf("fraud risk score %.0f in band %q: receipt required", decision.Score, decision.Band))
	default:
		outcome = domain.OutcomeApproved
	}

	if decision.CapsExceeded {
		reasons = append(reasons, "trailing-month return caps exceeded")
	}

	return decision, outcome, reasons, nil
}

// validateInput rejects malformed inputs before any stage runs.
func validateInput(in *Input) error {
	switch {
	case in == nil:
		return domain.InvalidInputError("evaluation input is required")
	case in.Policy == nil:
		return domain.InvalidInputError("policy is required")
	case in.Request == nil:
		return domain.InvalidInputError("return request is required")
	case in.Request.OrderID == "":
		return domain.InvalidInputError("return request order id is required")
	case len(in.Request.Items) == 0:
		return domain.InvalidInputError("return request has no items")
	case in.Request.Destination.Country == "":
		return domain.InvalidInputError("return destination country is required")
	case in.Order.CreatedAt.IsZero():
		return domain.InvalidInputError("order snapshot created_at is required")
	case in.Now.IsZero():
		return domain.InvalidInputError("evaluation timestamp is required")
	}

	for i, item := range in.Request.Items {
		if item.SKU == "" {
			return domain.InvalidInputError("item %d has no sku", i)
		}
		if item.Quantity <= 0 {
			return domain.InvalidInputError("item %s has non-positive quantity %d", item.SKU, item.Quantity)
		}
		if item.UnitPrice < 0 {
			return domain.InvalidInputError("item %s has negative unit price", item.SKU)
		}
	}

	return nil
}

// evaluationID derives a deterministic ID from the evaluation tuple, so the
// same (policy, request, order, context, now) yields an identical result.
func evaluationID(in *Input) string {
	seed := in.Request.TenantID + "|" + in.Policy.ID + "|" + in.Request.OrderID + "|" +
		in.Request.ID + "|" + strconv.FormatInt(in.Now.UTC().UnixNano(), 10)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
