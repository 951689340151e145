package domain

import (
	"time"
)

// ReturnRequest is the immutable input to one evaluation call.
type ReturnRequest struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`

	Items       []ReturnItem `json:"items"`
	Destination Location     `json:"destination"`

	// VIP marks the customer for fee waivers; asserted by the caller.
	VIP bool `json:"vip,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReturnItem is one line of a return request.
type ReturnItem struct {
	SKU      string   `json:"sku"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`

	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`

	Reason string `json:"reason"`

	// DamageTier is the declared damage level, matched against the
	// policy's partial refund tiers. Empty means undamaged.
	DamageTier string `json:"damageTier,omitempty"`

	Condition ConditionAttestation `json:"condition"`
}

// LineValue returns the item's total line value.
func (i ReturnItem) LineValue() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// ConditionAttestation is the submitter's claim about item condition.
type ConditionAttestation struct {
	Unopened          bool `json:"unopened"`
	OriginalPackaging bool `json:"originalPackaging"`
	TagsAttached      bool `json:"tagsAttached"`
}

// Location is the return's origin/destination address classification.
type Location struct {
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// OrderSnapshot carries the originating order's timestamps and totals.
// Zero timestamps mean the event has not happened (e.g. not yet delivered).
type OrderSnapshot struct {
	CreatedAt            time.Time `json:"createdAt"`
	FulfillmentAt        time.Time `json:"fulfillmentAt,omitempty"`
	DeliveredAt          time.Time `json:"deliveredAt,omitempty"`
	FirstDeliveryAttempt time.Time `json:"firstDeliveryAttempt,omitempty"`

	TotalPrice float64 `json:"totalPrice"`

	// ActualReturnShippingCost is the externally supplied carrier cost,
	// used when the policy deducts actual (not flat) shipping.
	ActualReturnShippingCost float64 `json:"actualReturnShippingCost,omitempty"`
}

// CustomerContext is the fraud-history snapshot supplied by the caller.
// The engine never reads these from an ambient store.
type CustomerContext struct {
	LoyaltyTier      string `json:"loyaltyTier,omitempty"`
	IsFirstTimeBuyer bool   `json:"isFirstTimeBuyer"`

	TrailingMonthReturnCount int     `json:"trailingMonthReturnCount"`
	TrailingMonthReturnValue float64 `json:"trailingMonthReturnValue"`

	// AccountAgeDays is optional supplementary signal for scorers.
	AccountAgeDays int `json:"accountAgeDays,omitempty"`
}

// Loyalty tiers in ascending order of standing.
var LoyaltyTiers = []string{"bronze", "silver", "gold", "platinum"}

// ValidLoyaltyTier reports whether tier is one of the known loyalty tiers.
func ValidLoyaltyTier(tier string) bool {
	for _, t := range LoyaltyTiers {
		if t == tier {
			return true
		}
	}
	return false
}
