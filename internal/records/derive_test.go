package records

import (
	"math"
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	tb := DefaultTimeBuckets()
	// 2024-03-04 is a Monday.
	txn := Transaction{
		Timestamp: time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC),
		Price:     40,
		UnitCost:  30,
		CostKnown: true,
	}

	d := Derive(txn, tb)
	if d.Hour != 18 {
		t.Errorf("Hour = %d, want 18", d.Hour)
	}
	if d.DayOfWeek != 0 || d.DayName != "Monday" {
		t.Errorf("DayOfWeek = %d (%s), want 0 (Monday)", d.DayOfWeek, d.DayName)
	}
	if d.TimeOfDay != "Evening" {
		t.Errorf("TimeOfDay = %q, want Evening", d.TimeOfDay)
	}
	if d.YearMonth != "2024-03" || d.Date != "2024-03-04" {
		t.Errorf("YearMonth/Date = %s/%s", d.YearMonth, d.Date)
	}
	if d.ISOWeek != 10 {
		t.Errorf("ISOWeek = %d, want 10", d.ISOWeek)
	}
	if d.Profit != 10 {
		t.Errorf("Profit = %v, want 10", d.Profit)
	}
	if math.Abs(d.ProfitMargin-0.25) > 1e-12 {
		t.Errorf("ProfitMargin = %v, want 0.25", d.ProfitMargin)
	}
}

func TestDeriveGuardsZeroPrice(t *testing.T) {
	d := Derive(Transaction{
		Timestamp: time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC),
		Price:     0,
		UnitCost:  5,
		CostKnown: true,
	}, DefaultTimeBuckets())

	if d.Profit != -5 {
		t.Errorf("Profit = %v, want -5", d.Profit)
	}
	if d.ProfitMargin != 0 {
		t.Errorf("ProfitMargin = %v, want 0 for zero price", d.ProfitMargin)
	}
	if d.DayOfWeek != 6 {
		t.Errorf("Sunday should be day 6, got %d", d.DayOfWeek)
	}
	if d.TimeOfDay != "Night" {
		t.Errorf("TimeOfDay = %q, want Night", d.TimeOfDay)
	}
}

func TestDeriveWithoutCostColumn(t *testing.T) {
	d := Derive(Transaction{
		Timestamp: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		Price:     12,
	}, DefaultTimeBuckets())
	if d.Profit != 0 || d.ProfitMargin != 0 {
		t.Errorf("expected zero profit without cost data, got %v / %v", d.Profit, d.ProfitMargin)
	}
}
