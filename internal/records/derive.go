package records

// Derive computes the analytic fields of t. It is pure and total.
// When the source has no cost column, profit and margin stay 0.
func Derive(t Transaction, buckets *TimeBuckets) Derived {
	ts := t.Timestamp
	isoYear, isoWeek := ts.ISOWeek()

	d := Derived{
		Transaction: t,
		Hour:        ts.Hour(),
		DayOfWeek:   (int(ts.Weekday()) + 6) % 7,
		DayName:     ts.Weekday().String(),
		TimeOfDay:   buckets.Assign(ts.Hour()),
		Date:        ts.Format("2006-01-02"),
		YearMonth:   ts.Format("2006-01"),
		ISOYear:     isoYear,
		ISOWeek:     isoWeek,
	}
	if t.CostKnown {
		d.Profit = t.Price - t.UnitCost
		if t.Price != 0 {
			d.ProfitMargin = d.Profit / t.Price
		}
	}
	return d
}

// DeriveAll derives every transaction, preserving order.
func DeriveAll(txns []Transaction, buckets *TimeBuckets) []Derived {
	out := make([]Derived, len(txns))
	for i, t := range txns {
		out[i] = Derive(t, buckets)
	}
	return out
}
