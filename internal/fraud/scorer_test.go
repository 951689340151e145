package fraud

import (
	"errors"
	"testing"

	"github.com/openreturns/kestrel/internal/domain"
)

func standardBands() ([]Band, error) {
	return ParseBands(
		map[string]string{
			"low":    "0-30",
			"medium": "31-60",
			"high":   "61-85",
			"severe": "86-100",
		},
		map[string]string{
			"low":    domain.ActionAutoApprove,
			"medium": domain.ActionRequireReceipt,
			"high":   domain.ActionManualReview,
			"severe": domain.ActionReject,
		},
	)
}

func TestParseBands(t *testing.T) {
	bands, err := standardBands()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bands) != 4 {
		t.Fatalf("expected 4 bands, got %d", len(bands))
	}

	// Bands come back sorted by lower bound.
	for i := 1; i < len(bands); i++ {
		if bands[i].Low < bands[i-1].Low {
			t.Errorf("bands not sorted: %+v", bands)
		}
	}
	if bands[0].Name != "low" || bands[0].Action != domain.ActionAutoApprove {
		t.Errorf("unexpected first band %+v", bands[0])
	}
}

func TestParseBandsEmpty(t *testing.T) {
	bands, err := ParseBands(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bands != nil {
		t.Errorf("expected nil bands, got %+v", bands)
	}
}

func TestParseBandsErrors(t *testing.T) {
	tests := []struct {
		name       string
		thresholds map[string]string
		actions    map[string]string
	}{
		{
			"MalformedRange",
			map[string]string{"low": "zero to thirty"},
			map[string]string{"low": domain.ActionAutoApprove},
		},
		{
			"MissingAction",
			map[string]string{"low": "0-100"},
			map[string]string{},
		},
		{
			"UnknownAction",
			map[string]string{"low": "0-100"},
			map[string]string{"low": "interrogate"},
		},
		{
			"NotStartingAtZero",
			map[string]string{"low": "10-100"},
			map[string]string{"low": domain.ActionAutoApprove},
		},
		{
			"Gap",
			map[string]string{"low": "0-30", "high": "50-100"},
			map[string]string{"low": domain.ActionAutoApprove, "high": domain.ActionReject},
		},
		{
			"Overlap",
			map[string]string{"low": "0-50", "high": "40-100"},
			map[string]string{"low": domain.ActionAutoApprove, "high": domain.ActionReject},
		},
		{
			"NotCoveringMax",
			map[string]string{"low": "0-80"},
			map[string]string{"low": domain.ActionAutoApprove},
		},
		{
			"Inverted",
			map[string]string{"low": "30-0"},
			map[string]string{"low": domain.ActionAutoApprove},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBands(tt.thresholds, tt.actions)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestMatchBand(t *testing.T) {
	bands, err := standardBands()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		score float64
		want  string
	}{
		{0, "low"},
		{30, "low"},
		{31, "medium"},
		{60, "medium"},
		{85, "high"},
		{86, "severe"},
		{100, "severe"},
		{-5, "low"},      // clamps to the first band
		{150, "severe"},  // clamps to the last band
	}

	for _, tt := range tests {
		band, ok := MatchBand(tt.score, bands)
		if !ok {
			t.Fatalf("score %.1f: expected a band", tt.score)
		}
		if band.Name != tt.want {
			t.Errorf("score %.1f: expected band %s, got %s", tt.score, tt.want, band.Name)
		}
	}

	if _, ok := MatchBand(50, nil); ok {
		t.Error("expected no match with no bands")
	}
}

func TestCapsExceeded(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want bool
	}{
		{"NoCaps", Input{ReturnCount: 100, ReturnValue: 1e6}, false},
		{"UnderBoth", Input{ReturnCount: 5, MaxReturnsPerMonth: 10, ReturnValue: 100, MaxReturnValuePerMonth: 500}, false},
		{"AtCap", Input{ReturnCount: 10, MaxReturnsPerMonth: 10}, false}, // cap itself is not a breach
		{"CountOver", Input{ReturnCount: 11, MaxReturnsPerMonth: 10}, true},
		{"ValueOver", Input{ReturnValue: 500.01, MaxReturnValuePerMonth: 500}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.CapsExceeded(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWeightedScorer(t *testing.T) {
	s := NewWeightedScorer()

	t.Run("CleanCustomer", func(t *testing.T) {
		score, err := s.Score(&Input{MaxReturnsPerMonth: 10, MaxReturnValuePerMonth: 1000})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score != 0 {
			t.Errorf("expected 0 for a clean customer, got %.2f", score)
		}
	})

	t.Run("SaturatesAtMax", func(t *testing.T) {
		score, err := s.Score(&Input{
			ReturnCount:            100,
			MaxReturnsPerMonth:     10,
			ReturnValue:            100000,
			MaxReturnValuePerMonth: 1000,
			RequestValue:           500,
			OrderTotal:             500,
			AccountAgeDays:         5,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score != ScoreMax {
			t.Errorf("expected saturation at %.0f, got %.2f", ScoreMax, score)
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		base := Input{MaxReturnsPerMonth: 10, MaxReturnValuePerMonth: 1000}
		var prev float64
		for count := 0; count <= 10; count++ {
			in := base
			in.ReturnCount = count
			score, err := s.Score(&in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if score < prev {
				t.Errorf("score must not decrease with return count: %d -> %.2f < %.2f", count, score, prev)
			}
			prev = score
		}
	})

	t.Run("UncappedFallback", func(t *testing.T) {
		score, err := s.Score(&Input{ReturnCount: 5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score != 20 {
			t.Errorf("expected 5 returns * 4 points without caps, got %.2f", score)
		}
	})
}
