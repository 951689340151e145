package engine

import (
	"fmt"
	"strings"

	"github.com/openreturns/kestrel/internal/domain"
)

// itemEligibility is the non-temporal part of an item verdict.
type itemEligibility struct {
	returnable   bool
	exchangeOnly bool
	expedited    bool
	reasons      []string
}

// evaluateEligibility applies tag, category, and condition gates to one
// item. Tag rule sets are not mutually exclusive in configuration, so
// precedence is explicit: non_returnable > exchange_only > expedited.
// Final-sale tags count as non-returnable.
func evaluateEligibility(cp *CompiledPolicy, item domain.ReturnItem) itemEligibility {
	e := cp.Policy.ProductEligibility

	if tag, ok := firstMatchingTag(item.Tags, e.TagRules.NonReturnableTags, e.TagRules.FinalSaleTags); ok {
		return itemEligibility{reasons: []string{fmt.Sprintf("item tagged %q is not returnable", tag)}}
	}

	if containsFold(e.CategoryExclusions, item.Category) {
		return itemEligibility{reasons: []string{fmt.Sprintf("category %q is excluded from returns", item.Category)}}
	}

	if reason, ok := conditionFailure(e.ConditionRequirements, item.Condition); ok {
		return itemEligibility{reasons: []string{reason}}
	}

	if _, ok := firstMatchingTag(item.Tags, e.TagRules.ExchangeOnlyTags); ok {
		return itemEligibility{returnable: true, exchangeOnly: true}
	}

	if _, ok := firstMatchingTag(item.Tags, e.TagRules.ExpeditedTags); ok {
		return itemEligibility{returnable: true, expedited: true}
	}

	if !cp.DefaultReturnable {
		return itemEligibility{reasons: []string{"returns are disabled by default and no tag grants returnability"}}
	}

	return itemEligibility{returnable: true}
}

// conditionFailure checks the submitter's attestations against the policy's
// condition requirements. The engine cannot verify the claims; it only
// enforces that they were made.
func conditionFailure(req domain.ConditionRequirements, att domain.ConditionAttestation) (string, bool) {
	switch {
	case req.RequireUnopened && !att.Unopened:
		return "condition requirement not met: item must be unopened", true
	case req.RequireOriginalPackaging && !att.OriginalPackaging:
		return "condition requirement not met: original packaging required", true
	case req.RequireTagsAttached && !att.TagsAttached:
		return "condition requirement not met: tags must be attached", true
	}
	return "", false
}

// valueGate checks the whole request's aggregate value against the policy
// bounds. Out-of-bounds value rejects the entire request.
func valueGate(cp *CompiledPolicy, total float64) (string, bool) {
	v := cp.Policy.ProductEligibility.ValueRules
	if total < v.MinReturnValue {
		return fmt.Sprintf("return value %.2f below minimum %.2f", total, v.MinReturnValue), false
	}
	if v.MaxReturnValue > 0 && total > v.MaxReturnValue {
		return fmt.Sprintf("return value %.2f exceeds maximum %.2f", total, v.MaxReturnValue), false
	}
	return "", true
}

// highValue reports whether an item crosses the manual-review threshold.
func highValue(cp *CompiledPolicy, item domain.ReturnItem) bool {
	v := cp.Policy.ProductEligibility.ValueRules
	return v.HighValueManualReview && v.HighValueThreshold > 0 && item.LineValue() >= v.HighValueThreshold
}

// firstMatchingTag returns the first item tag present in any of the given
// tag sets, comparing case-insensitively.
func firstMatchingTag(itemTags []string, sets ...[]string) (string, bool) {
	for _, set := range sets {
		for _, tag := range itemTags {
			if containsFold(set, tag) {
				return tag, true
			}
		}
	}
	return "", false
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
