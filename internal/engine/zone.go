package engine

import (
	"strings"

	"github.com/openreturns/kestrel/internal/domain"
)

// resolveZone matches a return's location against the policy's zones in
// declaration order. The first zone whose inclusion predicate matches wins;
// there is no scoring and no merging of partially matching zones.
//
// When no zone matches, the configured default zone applies. A policy with
// neither a match nor a default cannot classify the location, which is a
// configuration error, not a silent fallback.
func resolveZone(cp *CompiledPolicy, loc domain.Location) (domain.ZoneDecision, error) {
	country := normalizeLoc(loc.Country)
	state := normalizeLoc(loc.State)
	postal := normalizeLoc(loc.PostalCode)

	for i := range cp.Policy.Zones {
		z := &cp.Policy.Zones[i]
		if zoneMatches(z, country, state, postal) {
			return zoneDecision(z, false, country), nil
		}
	}

	if cp.defaultZone != nil {
		return zoneDecision(cp.defaultZone, true, country), nil
	}

	return domain.ZoneDecision{}, domain.ConfigurationError(
		"no zone matches location %s/%s/%s and no default zone is configured",
		loc.Country, loc.State, loc.PostalCode)
}

// zoneMatches applies one zone's inclusion predicate. Inputs are already
// normalized.
func zoneMatches(z *domain.PolicyZone, country, state, postal string) bool {
	// Empty country list is a wildcard.
	if len(z.CountriesIncluded) > 0 && !containsNormalized(z.CountriesIncluded, country) {
		return false
	}

	if len(z.StatesProvinces) > 0 && !containsNormalized(z.StatesProvinces, state) {
		return false
	}

	if len(z.PostalCodes.IncludeRanges) > 0 {
		if postal == "" {
			return false
		}
		inRange := false
		for _, r := range z.PostalCodes.IncludeRanges {
			if postal >= normalizeLoc(r.From) && postal <= normalizeLoc(r.To) {
				inRange = true
				break
			}
		}
		if !inRange {
			return false
		}
	}

	if containsNormalized(z.PostalCodes.ExcludeSpecific, postal) {
		return false
	}

	return true
}

func zoneDecision(z *domain.PolicyZone, isDefault bool, country string) domain.ZoneDecision {
	return domain.ZoneDecision{
		Matched:              true,
		ZoneName:             z.ZoneName,
		Default:              isDefault,
		DestinationWarehouse: z.DestinationWarehouse,
		Carrier:              selectCarrier(z, country),
		GenerateLabels:       z.GenerateLabels,
		GeneratePackingSlips: z.GeneratePackingSlips,
		BypassManualReview:   z.BypassManualReview,
		CustomsHandling:      z.CustomsHandling,
	}
}

// selectCarrier picks the zone's preferred carrier, falling back to the
// first allowed one. International-only carriers are skipped for domestic
// zones that explicitly include the destination country.
func selectCarrier(z *domain.PolicyZone, country string) string {
	if z.CarrierRestrictions.PreferredCarrier != "" {
		return z.CarrierRestrictions.PreferredCarrier
	}
	for _, c := range z.CarrierRestrictions.AllowedCarriers {
		if containsNormalized(z.CarrierRestrictions.InternationalOnly, normalizeLoc(c)) && len(z.CountriesIncluded) == 1 {
			continue
		}
		return c
	}
	return ""
}

func normalizeLoc(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func containsNormalized(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if normalizeLoc(s) == v {
			return true
		}
	}
	return false
}
