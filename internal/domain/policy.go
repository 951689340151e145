package domain

import (
	"time"
)

// Policy is a tenant's complete returns rules configuration.
// It is loaded read-only per evaluation call and never mutated by the engine.
// At most one policy per tenant is active at a time; the repository enforces
// this on save/activate.
type Policy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int    `json:"version"`
	IsActive    bool   `json:"isActive"`

	// Zones are evaluated in declaration order; first match wins.
	Zones []PolicyZone `json:"zones"`

	ReturnWindows       ReturnWindows       `json:"returnWindows"`
	ProductEligibility  ProductEligibility  `json:"productEligibility"`
	RefundSettings      RefundSettings      `json:"refundSettings"`
	ExchangeSettings    ExchangeSettings    `json:"exchangeSettings"`
	StoreCreditSettings StoreCreditSettings `json:"storeCreditSettings"`
	FraudDetection      FraudDetection      `json:"fraudDetection"`
	ShippingLogistics   ShippingLogistics   `json:"shippingLogistics"`

	// DefaultZone names the zone used when no zone's inclusion predicate
	// matches the return's location. Empty means unmatched locations are a
	// configuration error at evaluation time.
	DefaultZone string `json:"defaultZone,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PolicyZone is one geographic rule bundle.
type PolicyZone struct {
	ZoneName string `json:"zoneName"`

	// CountriesIncluded empty = wildcard (any country).
	CountriesIncluded []string `json:"countriesIncluded,omitempty"`

	// StatesProvinces empty = any state within the included countries.
	StatesProvinces []string `json:"statesProvinces,omitempty"`

	PostalCodes PostalCodeRules `json:"postalCodes"`

	DestinationWarehouse string   `json:"destinationWarehouse"`
	BackupDestinations   []string `json:"backupDestinations,omitempty"`

	CarrierRestrictions CarrierRestrictions `json:"carrierRestrictions"`

	GenerateLabels       bool `json:"generateLabels"`
	GeneratePackingSlips bool `json:"generatePackingSlips"`
	BypassManualReview   bool `json:"bypassManualReview"`
	CustomsHandling      bool `json:"customsHandling"`
}

// PostalCodeRules restricts a zone by postal code.
type PostalCodeRules struct {
	// IncludeRanges empty = all postal codes. Ranges compare
	// lexicographically on the normalized (uppercased, trimmed) code.
	IncludeRanges []PostalRange `json:"includeRanges,omitempty"`

	// ExcludeSpecific lists exact codes carved out of the include ranges.
	ExcludeSpecific []string `json:"excludeSpecific,omitempty"`
}

// PostalRange is an inclusive postal code range.
type PostalRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CarrierRestrictions selects carriers for a zone.
type CarrierRestrictions struct {
	PreferredCarrier  string   `json:"preferredCarrier,omitempty"`
	AllowedCarriers   []string `json:"allowedCarriers,omitempty"`
	InternationalOnly []string `json:"internationalOnly,omitempty"`
}

// Window type constants.
const (
	WindowLimited   = "limited"
	WindowUnlimited = "unlimited"
)

// Window calculation anchors.
const (
	FromOrderDate            = "order_date"
	FromFulfillmentDate      = "fulfillment_date"
	FromDeliveryDate         = "delivery_date"
	FromFirstDeliveryAttempt = "first_delivery_attempt"
)

// ReturnWindows configures the temporal gate.
type ReturnWindows struct {
	StandardWindow  StandardWindow  `json:"standardWindow"`
	ExtendedWindows ExtendedWindows `json:"extendedWindows"`

	// CategoryWindows and PriceWindows replace (not extend) the standard
	// day count when they apply; the most permissive value wins.
	CategoryWindows CategoryWindows `json:"categorySpecificWindows"`
	PriceWindows    PriceWindows    `json:"priceBasedWindows"`
}

// StandardWindow is the base return window.
type StandardWindow struct {
	Type            string `json:"type"` // "limited" or "unlimited"
	Days            int    `json:"days"`
	CalculationFrom string `json:"calculationFrom"`

	BusinessDaysOnly bool `json:"businessDaysOnly"`
	ExcludeWeekends  bool `json:"excludeWeekends"`
	ExcludeHolidays  bool `json:"excludeHolidays"`

	// HolidayCalendar lists dates in "2006-01-02" form, skipped when
	// ExcludeHolidays is set.
	HolidayCalendar []string `json:"holidayCalendar,omitempty"`
}

// ExtendedWindows are additive extensions on top of the winning base window.
type ExtendedWindows struct {
	HolidayExtension        HolidayExtension        `json:"holidayExtension"`
	LoyaltyMemberExtension  LoyaltyMemberExtension  `json:"loyaltyMemberExtension"`
	FirstTimeBuyerExtension FirstTimeBuyerExtension `json:"firstTimeBuyerExtension"`
}

// HolidayExtension adds days when "now" falls in one of the applicable months.
type HolidayExtension struct {
	Enabled          bool  `json:"enabled"`
	ExtraDays        int   `json:"extraDays"`
	ApplicableMonths []int `json:"applicableMonths,omitempty"` // 1..12
}

// LoyaltyMemberExtension adds days keyed by loyalty tier.
type LoyaltyMemberExtension struct {
	Enabled  bool           `json:"enabled"`
	TierDays map[string]int `json:"tierDays,omitempty"` // e.g. "gold": 15
}

// FirstTimeBuyerExtension adds days for a customer's first purchase.
type FirstTimeBuyerExtension struct {
	Enabled   bool `json:"enabled"`
	ExtraDays int  `json:"extraDays"`
}

// CategoryWindows overrides the base day count per product category.
type CategoryWindows struct {
	Enabled bool           `json:"enabled"`
	Days    map[string]int `json:"days,omitempty"` // category -> days
}

// PriceWindows overrides the base day count by item line value.
type PriceWindows struct {
	Enabled bool        `json:"enabled"`
	Tiers   []PriceTier `json:"tiers,omitempty"`
}

// PriceTier applies to line values in [MinPrice, MaxPrice).
// MaxPrice <= 0 means unbounded. Tiers must be ordered and non-overlapping.
type PriceTier struct {
	MinPrice float64 `json:"minPrice"`
	MaxPrice float64 `json:"maxPrice"`
	Days     int     `json:"days"`
}

// ProductEligibility configures the per-item gate.
type ProductEligibility struct {
	// DefaultReturnable defaults to true when omitted.
	DefaultReturnable *bool `json:"defaultReturnable,omitempty"`

	TagRules              TagRules              `json:"tagBasedRules"`
	CategoryExclusions    []string              `json:"categoryExclusions,omitempty"`
	ConditionRequirements ConditionRequirements `json:"conditionRequirements"`
	ValueRules            ValueRules            `json:"valueBasedRules"`
}

// TagRules map product tags to eligibility behavior. The sets are not
// required to be disjoint; precedence is
// non_returnable > exchange_only > expedited.
type TagRules struct {
	FinalSaleTags     []string `json:"finalSaleTags,omitempty"`
	NonReturnableTags []string `json:"nonReturnableTags,omitempty"`
	ExchangeOnlyTags  []string `json:"exchangeOnlyTags,omitempty"`
	ExpeditedTags     []string `json:"expeditedTags,omitempty"`
}

// ConditionRequirements are attestations the submitter asserts; the engine
// cannot verify them independently.
type ConditionRequirements struct {
	RequireUnopened          bool `json:"requireUnopened"`
	RequireOriginalPackaging bool `json:"requireOriginalPackaging"`
	RequireTagsAttached      bool `json:"requireTagsAttached"`
}

// ValueRules bound the monetary value of a return.
type ValueRules struct {
	MinReturnValue float64 `json:"minReturnValue"`
	MaxReturnValue float64 `json:"maxReturnValue"` // <= 0 means unbounded

	HighValueManualReview bool    `json:"highValueManualReview"`
	HighValueThreshold    float64 `json:"highValueThreshold"`
}

// Fee calculation types.
const (
	FeeFlat    = "flat"
	FeePercent = "percent"
)

// RefundSettings configures the refund resolution type.
type RefundSettings struct {
	Enabled bool `json:"enabled"`

	RestockingFee           RestockingFee           `json:"restockingFee"`
	ReturnShippingDeduction ReturnShippingDeduction `json:"returnShippingDeduction"`
	PartialRefunds          PartialRefunds          `json:"partialRefunds"`
}

// RestockingFee is deducted from the refund amount.
type RestockingFee struct {
	Enabled bool    `json:"enabled"`
	Type    string  `json:"type"` // "flat" or "percent"
	Amount  float64 `json:"amount"`

	WaiveForDefective bool `json:"waiveForDefective"`
	WaiveForVIP       bool `json:"waiveForVip"`
}

// Return shipping deduction types.
const (
	ShippingFlatRate   = "flat_rate"
	ShippingActualCost = "actual_cost"
)

// ReturnShippingDeduction subtracts return shipping cost from the refund.
type ReturnShippingDeduction struct {
	Enabled        bool    `json:"enabled"`
	Type           string  `json:"type"` // "flat_rate" or "actual_cost"
	FlatRateAmount float64 `json:"flatRateAmount"`
}

// PartialRefunds deducts a percentage per declared damage tier.
type PartialRefunds struct {
	Enabled bool `json:"enabled"`

	// DamageTiers maps a declared tier (e.g. "minor", "moderate", "severe")
	// to a percentage deducted from the item's refund value.
	DamageTiers map[string]float64 `json:"damageTiers,omitempty"`
}

// Exchange authorization methods for instant exchanges.
const (
	AuthOneDollar   = "one_dollar"
	AuthFullValue   = "full_value"
	AuthCreditCheck = "credit_check"
)

// ExchangeSettings configures the exchange resolution type.
type ExchangeSettings struct {
	Enabled bool `json:"enabled"`

	ExchangeTypes    ExchangeTypes    `json:"exchangeTypes"`
	InstantExchanges InstantExchanges `json:"instantExchanges"`
}

// ExchangeTypes flags which replacement shapes are offered.
type ExchangeTypes struct {
	SameProduct      bool `json:"sameProduct"`
	DifferentProduct bool `json:"differentProduct"`
	Upgrade          bool `json:"upgrade"`
	Downgrade        bool `json:"downgrade"`
}

// InstantExchanges ship the replacement before the original is received.
type InstantExchanges struct {
	Enabled             bool   `json:"enabled"`
	AuthorizationMethod string `json:"authorizationMethod"`
	ReturnDeadlineDays  int    `json:"returnDeadlineDays"`
}

// Store credit bonus types.
const (
	BonusPercentage = "percentage"
	BonusFlat       = "flat"
)

// StoreCreditSettings configures the store credit resolution type.
type StoreCreditSettings struct {
	Enabled bool `json:"enabled"`

	BonusType   string  `json:"bonusType"` // "percentage" or "flat"
	BonusAmount float64 `json:"bonusAmount"`

	// MinimumOrderForBonus gates the bonus on the original order total.
	MinimumOrderForBonus float64 `json:"minimumOrderForBonus"`
}

// FraudDetection configures the risk gate.
type FraudDetection struct {
	Enabled bool `json:"enabled"`

	RiskScoring        RiskScoring        `json:"riskScoring"`
	BehavioralPatterns BehavioralPatterns `json:"behavioralPatterns"`
}

// RiskScoring maps score bands to handling actions. The scoring formula
// itself is an engine extension point; the configuration supplies only bands.
type RiskScoring struct {
	// Thresholds maps band name to an inclusive "lo-hi" range, e.g.
	// "low": "0-30". Bands must tile 0..100 without gaps or overlap.
	Thresholds map[string]string `json:"thresholds,omitempty"`

	// Actions maps band name to one of the fraud actions.
	Actions map[string]string `json:"actions,omitempty"`

	// ScoreExpression optionally replaces the built-in scorer with a CEL
	// expression over the customer's behavioral counters.
	ScoreExpression string `json:"scoreExpression,omitempty"`
}

// BehavioralPatterns caps trailing-month return behavior. A breached cap
// floors the fraud action at manual_review regardless of band.
type BehavioralPatterns struct {
	MaxReturnsPerMonth     int     `json:"maxReturnsPerMonth"`     // <= 0 means uncapped
	MaxReturnValuePerMonth float64 `json:"maxReturnValuePerMonth"` // <= 0 means uncapped
}

// ShippingLogistics configures label handling for accepted returns.
type ShippingLogistics struct {
	PrepaidLabels    bool    `json:"prepaidLabels"`
	DeductLabelCost  bool    `json:"deductLabelCost"`
	LabelCost        float64 `json:"labelCost"`
	RequireTracking  bool    `json:"requireTracking"`
	DropoffLocations []string `json:"dropoffLocations,omitempty"`
}
