package models

import "testing"

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score float64
		tier  Tier
		color string
	}{
		{100, TierHigh, "green"},
		{80, TierHigh, "green"},
		{79.99, TierMedium, "yellow"},
		{50, TierMedium, "yellow"},
		{49.99, TierLow, "gray"},
		{0, TierLow, "gray"},
	}

	for _, tt := range tests {
		got := TierForScore(tt.score)
		if got != tt.tier {
			t.Errorf("TierForScore(%v) = %s, want %s", tt.score, got, tt.tier)
		}
		if got.Color() != tt.color {
			t.Errorf("%s.Color() = %s, want %s", got, got.Color(), tt.color)
		}
	}
}

func TestGrantDescription(t *testing.T) {
	g := Grant{DescriptionShort: "short"}
	if g.Description() != "short" {
		t.Fatalf("expected short description fallback, got %q", g.Description())
	}
	g.DescriptionLong = "long"
	if g.Description() != "long" {
		t.Fatalf("expected long description, got %q", g.Description())
	}
}
