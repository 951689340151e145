// Package fraud provides risk scoring and band-to-action mapping for
// return evaluations.
//
// The policy configuration supplies score bands and a band→action table,
// not a scoring formula. The formula is an injected Scorer so it can evolve
// independently of the band mapping.
package fraud

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openreturns/kestrel/internal/domain"
)

// ScoreMax is the upper end of the score scale. Bands must tile
// [0, ScoreMax] without gaps or overlap.
const ScoreMax = 100.0

// Band is one parsed risk band with its handling action.
type Band struct {
	Name   string
	Low    float64 // inclusive
	High   float64 // inclusive
	Action string
}

var validActions = map[string]bool{
	domain.ActionAutoApprove:    true,
	domain.ActionManualReview:   true,
	domain.ActionRequireReceipt: true,
	domain.ActionReject:         true,
}

// ParseBands parses the "lo-hi" threshold strings and joins them with the
// action table. Malformed ranges, gaps, overlaps, or unknown actions are
// configuration errors.
func ParseBands(thresholds map[string]string, actions map[string]string) ([]Band, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	bands := make([]Band, 0, len(thresholds))
	for name, rng := range thresholds {
		low, high, err := parseRange(rng)
		if err != nil {
			return nil, domain.ConfigurationError("risk band %q: %v", name, err)
		}

		action, ok := actions[name]
		if !ok {
			return nil, domain.ConfigurationError("risk band %q has no action", name)
		}
		if !validActions[action] {
			return nil, domain.ConfigurationError("risk band %q: unknown action %q", name, action)
		}

		bands = append(bands, Band{Name: name, Low: low, High: high, Action: action})
	}

	sort.Slice(bands, func(i, j int) bool { return bands[i].Low < bands[j].Low })

	// Bands are inclusive on both ends and must tile 0..ScoreMax.
	if bands[0].Low != 0 {
		return nil, domain.ConfigurationError("risk bands do not start at 0 (first is %q at %.0f)", bands[0].Name, bands[0].Low)
	}
	for i, b := range bands {
		if b.High < b.Low {
			return nil, domain.ConfigurationError("risk band %q: range inverted", b.Name)
		}
		if i > 0 {
			prev := bands[i-1]
			if b.Low <= prev.High {
				return nil, domain.ConfigurationError("risk bands %q and %q overlap", prev.Name, b.Name)
			}
			if b.Low > prev.High+1 {
				return nil, domain.ConfigurationError("gap between risk bands %q and %q", prev.Name, b.Name)
			}
		}
	}
	if bands[len(bands)-1].High < ScoreMax {
		return nil, domain.ConfigurationError("risk bands do not cover up to %.0f (last is %q at %.0f)", ScoreMax, bands[len(bands)-1].Name, bands[len(bands)-1].High)
	}

	return bands, nil
}

// parseRange parses an inclusive "lo-hi" numeric range string.
func parseRange(s string) (float64, float64, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range %q, want \"lo-hi\"", s)
	}

	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed lower bound %q", parts[0])
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed upper bound %q", parts[1])
	}

	return low, high, nil
}

// MatchBand finds the band containing score. Bounds are inclusive; scores
// outside the scale clamp to the nearest band.
func MatchBand(score float64, bands []Band) (Band, bool) {
	if len(bands) == 0 {
		return Band{}, false
	}
	if score <= bands[0].High {
		return bands[0], true
	}
	for _, b := range bands[1:] {
		if score >= b.Low && score <= b.High {
			return b, true
		}
	}
	return bands[len(bands)-1], true
}

// Input carries the behavioral counters a scorer may consult. Counters come
// from the caller-supplied customer context, never from an ambient store.
type Input struct {
	ReturnCount int     // trailing month
	ReturnValue float64 // trailing month

	MaxReturnsPerMonth     int
	MaxReturnValuePerMonth float64

	RequestValue   float64
	OrderTotal     float64
	AccountAgeDays int
	FirstTimeBuyer bool
}

// CapsExceeded reports whether either behavioral cap is breached.
// A breach floors the final action at manual_review regardless of band.
func (in *Input) CapsExceeded() bool {
	if in.MaxReturnsPerMonth > 0 && in.ReturnCount > in.MaxReturnsPerMonth {
		return true
	}
	if in.MaxReturnValuePerMonth > 0 && in.ReturnValue > in.MaxReturnValuePerMonth {
		return true
	}
	return false
}

// Scorer computes a risk score on the [0, ScoreMax] scale.
type Scorer interface {
	Score(in *Input) (float64, error)
}

// WeightedScorer is the default deterministic scorer. It scores pressure
// against the configured caps when present, falling back to absolute
// counters when a policy sets no caps.
type WeightedScorer struct{}

// NewWeightedScorer creates the default scorer.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{}
}

// Score implements Scorer.
func (s *WeightedScorer) Score(in *Input) (float64, error) {
	var score float64

	// Return frequency: up to 40 points.
	if in.MaxReturnsPerMonth > 0 {
		score += 40 * capRatio(float64(in.ReturnCount), float64(in.MaxReturnsPerMonth))
	} else {
		score += min(float64(in.ReturnCount)*4, 40)
	}

	// Return value pressure: up to 40 points.
	if in.MaxReturnValuePerMonth > 0 {
		score += 40 * capRatio(in.ReturnValue, in.MaxReturnValuePerMonth)
	} else {
		score += min(in.ReturnValue/50, 40)
	}

	// Large request relative to the order: up to 10 points.
	if in.OrderTotal > 0 && in.RequestValue > 0 {
		score += 10 * min(in.RequestValue/in.OrderTotal, 1)
	}

	// Young accounts returning goods score higher: 10 points.
	if in.AccountAgeDays > 0 && in.AccountAgeDays < 30 {
		score += 10
	}

	return min(score, ScoreMax), nil
}

// capRatio scales usage against a cap, saturating at 1.0 once the cap is
// reached.
func capRatio(used, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	return min(used/cap, 1)
}
