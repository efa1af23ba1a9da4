package models

import (
	"testing"
)

func TestNormalizeCondition(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		expected  PriceCondition
	}{
		{"Mint maps to NM", "M", PriceConditionNM},
		{"Near Mint maps to NM", "near mint", PriceConditionNM},
		{"Excellent maps to LP", "EX", PriceConditionLP},
		{"Light Play maps to LP", " lp ", PriceConditionLP},
		{"Good maps to MP", "GD", PriceConditionMP},
		{"Played maps to HP", "PL", PriceConditionHP},
		{"Poor maps to DMG", "PR", PriceConditionDMG},
		{"Damaged spelled out", "Damaged", PriceConditionDMG},
		{"Unknown is empty", "UNKNOWN", ""},
		{"Empty is empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeCondition(tt.condition)
			if result != tt.expected {
				t.Errorf("NormalizeCondition(%q) = %s, want %s", tt.condition, result, tt.expected)
			}
		})
	}
}

func TestAllPriceConditions(t *testing.T) {
	conditions := AllPriceConditions()

	if len(conditions) != 5 {
		t.Errorf("AllPriceConditions() returned %d conditions, want 5", len(conditions))
	}

	seen := make(map[PriceCondition]bool)
	for _, cond := range conditions {
		if seen[cond] {
			t.Errorf("Duplicate condition: %s", cond)
		}
		seen[cond] = true
	}
}

func TestSinglePriceRowPricing(t *testing.T) {
	t.Run("empty row has no prices", func(t *testing.T) {
		row := SinglePriceRow{CardID: "sv1-1"}
		p := row.Pricing()
		if p.Raw != nil || p.Graded != nil {
			t.Errorf("Pricing() = %+v, want both nil", p)
		}
	})

	t.Run("raw only defaults condition to NM", func(t *testing.T) {
		row := SinglePriceRow{CardID: "sv1-1", RawMarketCents: 150, RawTrend30: 4.5}
		p := row.Pricing()
		if p.Raw == nil {
			t.Fatal("expected raw price")
		}
		if p.Raw.Condition != PriceConditionNM {
			t.Errorf("Raw.Condition = %s, want NM", p.Raw.Condition)
		}
		if p.Raw.Trends.Day30 != 4.5 {
			t.Errorf("Raw.Trends.Day30 = %v, want 4.5", p.Raw.Trends.Day30)
		}
		if p.Graded != nil {
			t.Error("expected no graded price")
		}
	})

	t.Run("graded only", func(t *testing.T) {
		row := SinglePriceRow{CardID: "sv1-1", GradedMarket: 12000, GradedGrade: "10", GradedCompany: "PSA"}
		p := row.Pricing()
		if p.Raw != nil {
			t.Error("expected no raw price")
		}
		if p.Graded == nil || p.Graded.MarketCents != 12000 || p.Graded.Company != "PSA" {
			t.Errorf("Graded = %+v, want PSA 10 at 12000", p.Graded)
		}
	})
}
