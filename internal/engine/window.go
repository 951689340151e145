package engine

import (
	"fmt"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

// Window authority names reported in item verdicts.
const (
	authorityStandard  = "standard"
	authorityPriceTier = "price_tier"
	authorityUnlimited = "unlimited"
)

// windowVerdict is the temporal decision for one item.
type windowVerdict struct {
	allowedDays int
	authority   string
	deadline    time.Time
	within      bool
}

// resolveWindow computes the effective return window for one item.
//
// Category and price-tier overrides replace the standard day count; when
// several sources apply, the most permissive (largest) wins, and extensions
// are additive on top of the winner. This combination rule is a documented
// convention: the configuration schema does not state one, and "extension"
// semantics only make sense additively over the largest base.
//
// Deadlines are computed per item because each item can carry a different
// category or price override.
func resolveWindow(cp *CompiledPolicy, item domain.ReturnItem, order domain.OrderSnapshot, cust domain.CustomerContext, now time.Time) windowVerdict {
	w := cp.Policy.ReturnWindows

	// Unlimited windows short-circuit regardless of overrides or extensions.
	if cp.WindowType == domain.WindowUnlimited {
		return windowVerdict{authority: authorityUnlimited, within: true}
	}

	days := w.StandardWindow.Days
	authority := authorityStandard

	if w.CategoryWindows.Enabled {
		if d, ok := w.CategoryWindows.Days[item.Category]; ok && d > days {
			days = d
			authority = "category:" + item.Category
		}
	}

	if w.PriceWindows.Enabled {
		if d, ok := priceTierDays(w.PriceWindows.Tiers, item.LineValue()); ok && d > days {
			days = d
			authority = authorityPriceTier
		}
	}

	days += extensionDays(w.ExtendedWindows, cust, now)

	anchor := anchorDate(cp.CalculationFrom, order)
	deadline := deadlineDate(cp, anchor, days)

	return windowVerdict{
		allowedDays: days,
		authority:   authority,
		deadline:    deadline,
		within:      !dateOnly(now).After(dateOnly(deadline)),
	}
}

// priceTierDays finds the tier containing the line value.
// Tiers cover [MinPrice, MaxPrice); MaxPrice <= 0 means unbounded.
func priceTierDays(tiers []domain.PriceTier, value float64) (int, bool) {
	for _, t := range tiers {
		if value < t.MinPrice {
			continue
		}
		if t.MaxPrice <= 0 || value < t.MaxPrice {
			return t.Days, true
		}
	}
	return 0, false
}

// extensionDays sums the applicable additive extensions.
func extensionDays(ext domain.ExtendedWindows, cust domain.CustomerContext, now time.Time) int {
	var days int

	if ext.HolidayExtension.Enabled {
		month := int(now.UTC().Month())
		for _, m := range ext.HolidayExtension.ApplicableMonths {
			if m == month {
				days += ext.HolidayExtension.ExtraDays
				break
			}
		}
	}

	if ext.LoyaltyMemberExtension.Enabled && cust.LoyaltyTier != "" {
		days += ext.LoyaltyMemberExtension.TierDays[cust.LoyaltyTier]
	}

	if ext.FirstTimeBuyerExtension.Enabled && cust.IsFirstTimeBuyer {
		days += ext.FirstTimeBuyerExtension.ExtraDays
	}

	return days
}

// anchorDate picks the window's starting timestamp. When the configured
// anchor event has not happened yet (zero timestamp), the order creation
// date applies instead, never a silent "always in window".
func anchorDate(from string, order domain.OrderSnapshot) time.Time {
	var t time.Time
	switch from {
	case domain.FromFulfillmentDate:
		t = order.FulfillmentAt
	case domain.FromDeliveryDate:
		t = order.DeliveredAt
	case domain.FromFirstDeliveryAttempt:
		t = order.FirstDeliveryAttempt
	}
	if t.IsZero() {
		t = order.CreatedAt
	}
	return t
}

// deadlineDate walks forward from the anchor by the allowed day count.
// Business-day and holiday exclusions adjust the deadline date, not the
// day count: skipped days do not consume the allowance.
func deadlineDate(cp *CompiledPolicy, anchor time.Time, days int) time.Time {
	sw := cp.Policy.ReturnWindows.StandardWindow
	skipWeekends := sw.BusinessDaysOnly || sw.ExcludeWeekends
	skipHolidays := sw.BusinessDaysOnly || sw.ExcludeHolidays

	if !skipWeekends && !skipHolidays {
		return anchor.AddDate(0, 0, days)
	}

	d := anchor
	remaining := days
	for remaining > 0 {
		d = d.AddDate(0, 0, 1)
		if skipWeekends && isWeekend(d) {
			continue
		}
		if skipHolidays && cp.Holidays[d.UTC().Format("2006-01-02")] {
			continue
		}
		remaining--
	}
	return d
}

func isWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// dateOnly truncates a timestamp to its UTC calendar date, so a return on
// the deadline date itself is within-window.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowExpiredReason formats the reason recorded on an expired item.
func windowExpiredReason(v windowVerdict) string {
	return fmt.Sprintf("return window expired: %d day window (%s) ended %s",
		v.allowedDays, v.authority, v.deadline.UTC().Format("2006-01-02"))
}
