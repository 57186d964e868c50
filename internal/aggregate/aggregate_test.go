package aggregate

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/withObsrvr/retail-sync/internal/records"
)

func derive(t *testing.T, txns []records.Transaction) []records.Derived {
	t.Helper()
	return records.DeriveAll(txns, records.DefaultTimeBuckets())
}

func txn(ts time.Time, customer, vendor, location string, price, cost float64) records.Transaction {
	return records.Transaction{
		Timestamp:  ts,
		CustomerID: customer,
		VendorID:   vendor,
		LocationID: location,
		Quantity:   1,
		UnitCost:   cost,
		Price:      price,
		CostKnown:  true,
	}
}

// oneDay builds 100 transactions across 3 vendors on 2024-03-04.
func oneDay() []records.Transaction {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	vendors := []string{"V1", "V2", "V3"}
	var out []records.Transaction
	for i := 0; i < 100; i++ {
		ts := day.Add(time.Duration(i*14) * time.Minute)
		out = append(out, txn(ts,
			fmt.Sprintf("C%02d", i%17),
			vendors[i%3],
			fmt.Sprintf("L%d", i%4),
			float64(10+i%7)+0.25,
			5,
		))
	}
	return out
}

func TestComputeVendorPerformance(t *testing.T) {
	set := Compute(derive(t, oneDay()), nil, nil)

	if len(set.Vendors) != 3 {
		t.Fatalf("expected 3 vendors, got %d", len(set.Vendors))
	}
	var count int64
	for i, v := range set.Vendors {
		count += v.TransactionCount
		if i > 0 && v.TotalSales > set.Vendors[i-1].TotalSales {
			t.Errorf("vendors not ordered by sales: %v", set.Vendors)
		}
		if want := v.TotalSales / float64(v.TransactionCount); v.AvgTransaction != want {
			t.Errorf("vendor %s avg = %v, want %v", v.VendorID, v.AvgTransaction, want)
		}
		if want := v.TotalSales - 5*float64(v.TransactionCount); !closeEnough(v.TotalProfit, want, 0) {
			t.Errorf("vendor %s profit = %v, want %v", v.VendorID, v.TotalProfit, want)
		}
	}
	if count != 100 {
		t.Errorf("vendor counts sum to %d, want 100", count)
	}
	if set.KPIs.TotalTransactions != 100 {
		t.Errorf("expected 100 transactions, got %d", set.KPIs.TotalTransactions)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	a := Compute(derive(t, oneDay()), nil, nil)
	b := Compute(derive(t, oneDay()), nil, nil)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical input produced different aggregates")
	}
}

func TestComputeFixedShapes(t *testing.T) {
	set := Compute(nil, nil, nil)

	if len(set.Hourly) != 24 {
		t.Errorf("expected 24 hourly rows, got %d", len(set.Hourly))
	}
	if len(set.Daily) != 7 {
		t.Errorf("expected 7 daily rows, got %d", len(set.Daily))
	}
	if set.Daily[0].DayOfWeek != "Monday" || set.Daily[6].DayOfWeek != "Sunday" {
		t.Errorf("unexpected day order: %s..%s", set.Daily[0].DayOfWeek, set.Daily[6].DayOfWeek)
	}
	if len(set.TimeOfDay) != 4 {
		t.Errorf("expected 4 time-of-day rows, got %d", len(set.TimeOfDay))
	}
	for _, r := range set.Hourly {
		if r.AvgTransaction != 0 || r.TransactionCount != 0 {
			t.Errorf("empty hour %d has values: %+v", r.Hour, r)
		}
	}
	if len(set.Vendors) != 0 || len(set.Customers) != 0 {
		t.Error("expected no vendor or customer rows")
	}
	if !Validate(set).Passed {
		t.Errorf("empty set should validate: %v", Validate(set).Errors)
	}
}

func TestComputeDenseRanks(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	set := Compute(derive(t, []records.Transaction{
		txn(ts, "C1", "B", "L1", 50, 0),
		txn(ts, "C2", "A", "L1", 50, 0),
		txn(ts, "C3", "C", "L2", 20, 0),
		txn(ts, "C3", "D", "L2", 80, 0),
	}), nil, nil)

	var got []string
	for _, v := range set.Vendors {
		got = append(got, fmt.Sprintf("%d:%s", v.Rank, v.VendorID))
	}
	want := []string{"1:D", "2:A", "2:B", "3:C"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("vendor ranks = %v, want %v", got, want)
	}

	if set.Customers[0].CustomerID != "C3" || set.Customers[0].TransactionCount != 2 {
		t.Errorf("unexpected top customer: %+v", set.Customers[0])
	}
	if set.Locations[0].LocationID != "L1" || set.Locations[0].UniqueCustomers != 2 {
		t.Errorf("unexpected top location: %+v", set.Locations[0])
	}
}

func TestComputeCheckinCounts(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	checkins := []records.Checkin{
		{Timestamp: ts, CustomerID: "C1"},
		{Timestamp: ts, CustomerID: "C1"},
		{Timestamp: ts, CustomerID: "C9"},
	}
	set := Compute(derive(t, []records.Transaction{txn(ts, "C1", "V1", "L1", 10, 0)}), checkins, nil)

	if set.Customers[0].CheckinCount != 2 {
		t.Errorf("expected 2 check-ins for C1, got %d", set.Customers[0].CheckinCount)
	}
	if len(set.Customers) != 1 {
		t.Errorf("check-ins must not create customer rows, got %d", len(set.Customers))
	}
	if set.KPIs.TotalCheckins != 3 {
		t.Errorf("expected 3 total check-ins, got %d", set.KPIs.TotalCheckins)
	}
}

func TestComputeBucketsFollowPartition(t *testing.T) {
	buckets, err := records.NewTimeBuckets([]records.Bucket{
		{Name: "Day", Start: 6, End: 18},
		{Name: "Night", Start: 18, End: 6},
	})
	if err != nil {
		t.Fatalf("NewTimeBuckets failed: %v", err)
	}
	ts := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	txns := records.DeriveAll([]records.Transaction{
		txn(ts, "C1", "V1", "L1", 10, 0),
		txn(ts.Add(14*time.Hour), "C1", "V1", "L1", 30, 0),
	}, buckets)
	set := Compute(txns, nil, buckets)

	if len(set.TimeOfDay) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(set.TimeOfDay))
	}
	if set.TimeOfDay[0].TimeOfDay != "Day" || set.TimeOfDay[0].TotalSales != 10 {
		t.Errorf("unexpected Day row: %+v", set.TimeOfDay[0])
	}
	if set.TimeOfDay[1].TimeOfDay != "Night" || set.TimeOfDay[1].TotalSales != 30 {
		t.Errorf("unexpected Night row: %+v", set.TimeOfDay[1])
	}
	if set.Hourly[21].TimeOfDay != "Night" {
		t.Errorf("hour 21 labelled %q", set.Hourly[21].TimeOfDay)
	}
}

func TestSetTables(t *testing.T) {
	set := Compute(derive(t, oneDay()), nil, nil)
	counts := set.RowCounts()

	want := map[string]int64{
		"hourly_sales":          24,
		"daily_sales":           7,
		"time_of_day_sales":     4,
		"vendor_performance":    3,
		"customer_performance":  17,
		"location_performance":  4,
		"kpis":                  10,
		"transactions_enhanced": 100,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("row counts = %v, want %v", counts, want)
	}
}
