package engine

import (
	"time"

	"github.com/openreturns/kestrel/internal/domain"
	"github.com/openreturns/kestrel/internal/fraud"
)

// CompiledPolicy is a policy with every default resolved and every derived
// structure (risk bands, holiday dates, scorer) built once at load time.
// The engine reads it but never writes it, so one compiled policy is safe
// to share across concurrent evaluations.
type CompiledPolicy struct {
	Policy *domain.Policy

	// Resolved defaults for optional fields.
	WindowType        string
	CalculationFrom   string
	DefaultReturnable bool

	// Holidays parsed from the standard window's calendar, keyed "2006-01-02".
	Holidays map[string]bool

	// Bands parsed from the fraud risk thresholds; nil when fraud detection
	// is disabled or unconfigured.
	Bands []fraud.Band

	// Scorer is non-nil when the policy configures its own score expression.
	Scorer fraud.Scorer

	defaultZone *domain.PolicyZone
}

// Compile validates a policy and resolves its defaults. All configuration
// errors surface here, before any evaluation runs; a compiled policy never
// fails on a malformed field at evaluation time.
func Compile(p *domain.Policy) (*CompiledPolicy, error) {
	if p == nil {
		return nil, domain.InvalidInputError("policy is required")
	}

	cp := &CompiledPolicy{Policy: p}

	if err := cp.compileZones(); err != nil {
		return nil, err
	}
	if err := cp.compileWindows(); err != nil {
		return nil, err
	}
	if err := cp.compileEligibility(); err != nil {
		return nil, err
	}
	if err := cp.compileResolutions(); err != nil {
		return nil, err
	}
	if err := cp.compileFraud(); err != nil {
		return nil, err
	}

	return cp, nil
}

func (cp *CompiledPolicy) compileZones() error {
	seen := make(map[string]bool, len(cp.Policy.Zones))
	for i, z := range cp.Policy.Zones {
		if z.ZoneName == "" {
			return domain.ConfigurationError("zone %d has no name", i)
		}
		if seen[z.ZoneName] {
			return domain.ConfigurationError("duplicate zone name %q", z.ZoneName)
		}
		seen[z.ZoneName] = true

		for _, r := range z.PostalCodes.IncludeRanges {
			if r.From == "" || r.To == "" {
				return domain.ConfigurationError("zone %q: postal range missing bound", z.ZoneName)
			}
		}
	}

	if cp.Policy.DefaultZone != "" {
		if !seen[cp.Policy.DefaultZone] {
			return domain.ConfigurationError("default zone %q is not a configured zone", cp.Policy.DefaultZone)
		}
		for i := range cp.Policy.Zones {
			if cp.Policy.Zones[i].ZoneName == cp.Policy.DefaultZone {
				cp.defaultZone = &cp.Policy.Zones[i]
				break
			}
		}
	}

	return nil
}

func (cp *CompiledPolicy) compileWindows() error {
	w := cp.Policy.ReturnWindows

	cp.WindowType = w.StandardWindow.Type
	if cp.WindowType == "" {
		cp.WindowType = domain.WindowLimited
	}
	if cp.WindowType != domain.WindowLimited && cp.WindowType != domain.WindowUnlimited {
		return domain.ConfigurationError("unknown window type %q", w.StandardWindow.Type)
	}
	if cp.WindowType == domain.WindowLimited && w.StandardWindow.Days <= 0 {
		return domain.ConfigurationError("limited window requires positive days, got %d", w.StandardWindow.Days)
	}

	cp.CalculationFrom = w.StandardWindow.CalculationFrom
	if cp.CalculationFrom == "" {
		cp.CalculationFrom = domain.FromOrderDate
	}
	switch cp.CalculationFrom {
	case domain.FromOrderDate, domain.FromFulfillmentDate, domain.FromDeliveryDate, domain.FromFirstDeliveryAttempt:
	default:
		return domain.ConfigurationError("unknown window anchor %q", w.StandardWindow.CalculationFrom)
	}

	cp.Holidays = make(map[string]bool, len(w.StandardWindow.HolidayCalendar))
	for _, d := range w.StandardWindow.HolidayCalendar {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return domain.ConfigurationError("malformed holiday date %q", d)
		}
		cp.Holidays[d] = true
	}

	for _, m := range w.ExtendedWindows.HolidayExtension.ApplicableMonths {
		if m < 1 || m > 12 {
			return domain.ConfigurationError("holiday extension month %d out of range", m)
		}
	}
	for tier, days := range w.ExtendedWindows.LoyaltyMemberExtension.TierDays {
		if !domain.ValidLoyaltyTier(tier) {
			return domain.ConfigurationError("unknown loyalty tier %q", tier)
		}
		if days < 0 {
			return domain.ConfigurationError("loyalty extension for tier %q is negative", tier)
		}
	}
	for cat, days := range w.CategoryWindows.Days {
		if days <= 0 {
			return domain.ConfigurationError("category window for %q requires positive days", cat)
		}
	}

	if w.PriceWindows.Enabled {
		tiers := w.PriceWindows.Tiers
		for i, t := range tiers {
			if t.Days <= 0 {
				return domain.ConfigurationError("price tier %d requires positive days", i)
			}
			if t.MaxPrice > 0 && t.MaxPrice <= t.MinPrice {
				return domain.ConfigurationError("price tier %d has inverted bounds", i)
			}
			if i > 0 {
				prev := tiers[i-1]
				if prev.MaxPrice <= 0 {
					return domain.ConfigurationError("only the last price tier may be unbounded")
				}
				if t.MinPrice < prev.MaxPrice {
					return domain.ConfigurationError("price tiers %d and %d overlap", i-1, i)
				}
			}
		}
	}

	return nil
}

func (cp *CompiledPolicy) compileEligibility() error {
	e := cp.Policy.ProductEligibility

	cp.DefaultReturnable = true
	if e.DefaultReturnable != nil {
		cp.DefaultReturnable = *e.DefaultReturnable
	}

	v := e.ValueRules
	if v.MinReturnValue < 0 {
		return domain.ConfigurationError("min return value is negative")
	}
	if v.MaxReturnValue > 0 && v.MaxReturnValue < v.MinReturnValue {
		return domain.ConfigurationError("max return value below min return value")
	}
	if v.HighValueManualReview && v.HighValueThreshold <= 0 {
		return domain.ConfigurationError("high value review enabled without a threshold")
	}

	return nil
}

func (cp *CompiledPolicy) compileResolutions() error {
	r := cp.Policy.RefundSettings

	if r.RestockingFee.Enabled {
		switch r.RestockingFee.Type {
		case domain.FeeFlat, domain.FeePercent, "":
		default:
			return domain.ConfigurationError("unknown restocking fee type %q", r.RestockingFee.Type)
		}
		if r.RestockingFee.Amount < 0 {
			return domain.ConfigurationError("restocking fee amount is negative")
		}
	}

	if r.ReturnShippingDeduction.Enabled {
		switch r.ReturnShippingDeduction.Type {
		case domain.ShippingFlatRate, domain.ShippingActualCost, "":
		default:
			return domain.ConfigurationError("unknown shipping deduction type %q", r.ReturnShippingDeduction.Type)
		}
	}

	if r.PartialRefunds.Enabled {
		for tier, pct := range r.PartialRefunds.DamageTiers {
			if pct < 0 || pct > 100 {
				return domain.ConfigurationError("damage tier %q percentage out of range", tier)
			}
		}
	}

	x := cp.Policy.ExchangeSettings
	if x.Enabled && x.InstantExchanges.Enabled {
		switch x.InstantExchanges.AuthorizationMethod {
		case domain.AuthOneDollar, domain.AuthFullValue, domain.AuthCreditCheck, "":
		default:
			return domain.ConfigurationError("unknown exchange authorization method %q", x.InstantExchanges.AuthorizationMethod)
		}
	}

	sc := cp.Policy.StoreCreditSettings
	if sc.Enabled {
		switch sc.BonusType {
		case domain.BonusPercentage, domain.BonusFlat, "":
		default:
			return domain.ConfigurationError("unknown store credit bonus type %q", sc.BonusType)
		}
		if sc.BonusAmount < 0 {
			return domain.ConfigurationError("store credit bonus amount is negative")
		}
	}

	return nil
}

func (cp *CompiledPolicy) compileFraud() error {
	f := cp.Policy.FraudDetection
	if !f.Enabled {
		return nil
	}

	bands, err := fraud.ParseBands(f.RiskScoring.Thresholds, f.RiskScoring.Actions)
	if err != nil {
		return err
	}
	cp.Bands = bands

	if f.RiskScoring.ScoreExpression != "" {
		scorer, err := fraud.NewCELScorer(f.RiskScoring.ScoreExpression)
		if err != nil {
			return err
		}
		cp.Scorer = scorer
	}

	return nil
}
