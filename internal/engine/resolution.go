package engine

import (
	"math"
	"strings"

	"github.com/openreturns/kestrel/internal/domain"
)

// computeResolutions builds candidate resolutions for the eligible item
// subset. Every enabled, eligible resolution type produces a candidate; the
// engine never picks a "best" one; that choice belongs to the customer or
// the merchant UI downstream.
func computeResolutions(cp *CompiledPolicy, req *domain.ReturnRequest, order domain.OrderSnapshot, verdicts []domain.ItemVerdict, zone domain.ZoneDecision) []domain.ResolutionCandidate {
	var refundable, exchangeable []int
	for i, v := range verdicts {
		if !v.Returnable || !v.WithinWindow {
			continue
		}
		exchangeable = append(exchangeable, i)
		if !v.ExchangeOnly {
			refundable = append(refundable, i)
		}
	}

	var out []domain.ResolutionCandidate

	if cp.Policy.RefundSettings.Enabled && len(refundable) > 0 {
		out = append(out, refundCandidate(cp, req, order, refundable, zone))
	}

	if cp.Policy.ExchangeSettings.Enabled && len(exchangeable) > 0 {
		out = append(out, exchangeCandidate(cp))
	}

	if cp.Policy.StoreCreditSettings.Enabled && len(refundable) > 0 {
		out = append(out, storeCreditCandidate(cp, req, order, refundable, zone))
	}

	return out
}

// refundCandidate computes the refund amount for the given item subset:
// gross line value net of restocking fee, return shipping, label cost, and
// damage-tier deductions.
func refundCandidate(cp *CompiledPolicy, req *domain.ReturnRequest, order domain.OrderSnapshot, subset []int, zone domain.ZoneDecision) domain.ResolutionCandidate {
	amount, deductions := netRefund(cp, req, order, subset, zone)
	return domain.ResolutionCandidate{
		Type:       domain.ResolutionRefund,
		Amount:     amount,
		Deductions: deductions,
	}
}

// netRefund is shared by refund and store credit: store credit is the
// refund-equivalent amount plus bonus.
func netRefund(cp *CompiledPolicy, req *domain.ReturnRequest, order domain.OrderSnapshot, subset []int, zone domain.ZoneDecision) (float64, []domain.FeeLine) {
	var gross float64
	for _, i := range subset {
		gross += req.Items[i].LineValue()
	}
	gross = round2(gross)

	var deductions []domain.FeeLine

	if fee, ok := restockingFee(cp, req, subset, gross); ok {
		deductions = append(deductions, fee)
	}

	rs := cp.Policy.RefundSettings.ReturnShippingDeduction
	if rs.Enabled {
		shipping := rs.FlatRateAmount
		if rs.Type == domain.ShippingActualCost {
			shipping = order.ActualReturnShippingCost
		}
		if shipping > 0 {
			deductions = append(deductions, domain.FeeLine{Label: "return_shipping", Amount: round2(shipping)})
		}
	}

	sl := cp.Policy.ShippingLogistics
	if sl.PrepaidLabels && sl.DeductLabelCost && sl.LabelCost > 0 && zone.GenerateLabels {
		deductions = append(deductions, domain.FeeLine{Label: "prepaid_label", Amount: round2(sl.LabelCost)})
	}

	pr := cp.Policy.RefundSettings.PartialRefunds
	if pr.Enabled {
		var damage float64
		for _, i := range subset {
			item := req.Items[i]
			if item.DamageTier == "" {
				continue
			}
			if pct, ok := pr.DamageTiers[item.DamageTier]; ok {
				damage += item.LineValue() * pct / 100
			}
		}
		if damage > 0 {
			deductions = append(deductions, domain.FeeLine{Label: "damage_deduction", Amount: round2(damage)})
		}
	}

	amount := gross
	for _, d := range deductions {
		amount -= d.Amount
	}
	if amount < 0 {
		amount = 0
	}
	return round2(amount), deductions
}

// restockingFee computes the fee line, honoring the defective and VIP
// waivers. The fee is waived only when every item in the subset qualifies.
func restockingFee(cp *CompiledPolicy, req *domain.ReturnRequest, subset []int, gross float64) (domain.FeeLine, bool) {
	rf := cp.Policy.RefundSettings.RestockingFee
	if !rf.Enabled || rf.Amount <= 0 {
		return domain.FeeLine{}, false
	}

	if rf.WaiveForVIP && req.VIP {
		return domain.FeeLine{}, false
	}
	if rf.WaiveForDefective && allDefective(req, subset) {
		return domain.FeeLine{}, false
	}

	amount := rf.Amount
	if rf.Type == domain.FeePercent {
		amount = gross * rf.Amount / 100
	}
	return domain.FeeLine{Label: "restocking_fee", Amount: round2(amount)}, true
}

func allDefective(req *domain.ReturnRequest, subset []int) bool {
	for _, i := range subset {
		if !strings.EqualFold(req.Items[i].Reason, "defective") {
			return false
		}
	}
	return len(subset) > 0
}

// exchangeCandidate emits replacement terms. Exchanges carry no monetary
// refund; the settlement is the replacement itself.
func exchangeCandidate(cp *CompiledPolicy) domain.ResolutionCandidate {
	x := cp.Policy.ExchangeSettings

	var types []string
	if x.ExchangeTypes.SameProduct {
		types = append(types, "same_product")
	}
	if x.ExchangeTypes.DifferentProduct {
		types = append(types, "different_product")
	}
	if x.ExchangeTypes.Upgrade {
		types = append(types, "upgrade")
	}
	if x.ExchangeTypes.Downgrade {
		types = append(types, "downgrade")
	}
	if len(types) == 0 {
		types = []string{"same_product"}
	}

	terms := &domain.ExchangeTerms{AllowedTypes: types}
	if x.InstantExchanges.Enabled {
		terms.Instant = true
		terms.AuthorizationMethod = x.InstantExchanges.AuthorizationMethod
		if terms.AuthorizationMethod == "" {
			terms.AuthorizationMethod = domain.AuthOneDollar
		}
		terms.ReturnDeadlineDays = x.InstantExchanges.ReturnDeadlineDays
	}

	return domain.ResolutionCandidate{
		Type:     domain.ResolutionExchange,
		Exchange: terms,
	}
}

// storeCreditCandidate computes the refund-equivalent amount plus the
// configured bonus, gated on the original order total.
func storeCreditCandidate(cp *CompiledPolicy, req *domain.ReturnRequest, order domain.OrderSnapshot, subset []int, zone domain.ZoneDecision) domain.ResolutionCandidate {
	base, deductions := netRefund(cp, req, order, subset, zone)

	sc := cp.Policy.StoreCreditSettings
	var bonus float64
	if sc.MinimumOrderForBonus <= 0 || order.TotalPrice >= sc.MinimumOrderForBonus {
		switch sc.BonusType {
		case domain.BonusFlat:
			bonus = sc.BonusAmount
		default: // percentage
			bonus = base * sc.BonusAmount / 100
		}
	}
	bonus = round2(bonus)

	return domain.ResolutionCandidate{
		Type:       domain.ResolutionStoreCredit,
		Amount:     round2(base + bonus),
		Bonus:      bonus,
		Deductions: deductions,
	}
}

// round2 rounds to cents. All monetary math in the engine settles to two
// decimal places at each step.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
