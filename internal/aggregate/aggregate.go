// Package aggregate computes the published views from the derived record set.
// Every run recomputes the full set; nothing is merged incrementally.
package aggregate

import (
	"sort"
	"time"

	"github.com/withObsrvr/retail-sync/internal/records"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// Set holds every aggregate view of one run.
type Set struct {
	Hourly    []tables.HourlySalesRow
	Daily     []tables.DailySalesRow
	TimeOfDay []tables.TimeOfDaySalesRow
	Vendors   []tables.VendorPerformanceRow
	Customers []tables.CustomerPerformanceRow
	Locations []tables.LocationPerformanceRow
	Enhanced  []tables.EnhancedTransactionRow
	KPIs      KPISet
}

// Tables returns the views in publication order.
func (s *Set) Tables() []tables.Table {
	return []tables.Table{
		tables.NewView(s.Hourly),
		tables.NewView(s.Daily),
		tables.NewView(s.TimeOfDay),
		tables.NewView(s.Vendors),
		tables.NewView(s.Customers),
		tables.NewView(s.Locations),
		tables.NewView(s.KPIs.Rows()),
		tables.NewView(s.Enhanced),
	}
}

// RowCounts returns the number of rows per table name.
func (s *Set) RowCounts() map[string]int64 {
	counts := make(map[string]int64)
	for _, t := range s.Tables() {
		counts[t.Name()] = int64(t.Len())
	}
	return counts
}

type tally struct {
	sales  float64
	profit float64
	count  int64
}

func (t *tally) add(d records.Derived) {
	t.sales += d.Price
	t.profit += d.Profit
	t.count++
}

func (t tally) avg() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sales / float64(t.count)
}

func (t tally) margin() float64 {
	if t.sales == 0 {
		return 0
	}
	return t.profit / t.sales
}

// Compute builds every view from txns. It is pure: the same input always
// yields the same rows in the same order.
func Compute(txns []records.Derived, checkins []records.Checkin, buckets *records.TimeBuckets) *Set {
	if buckets == nil {
		buckets = records.DefaultTimeBuckets()
	}

	var (
		hours    [24]tally
		days     [7]tally
		periods  = make(map[string]*tally)
		vendors  = make(map[string]*tally)
		custs    = make(map[string]*tally)
		locs     = make(map[string]*tally)
		locCusts = make(map[string]map[string]struct{})
	)
	group := func(m map[string]*tally, key string) *tally {
		t, ok := m[key]
		if !ok {
			t = &tally{}
			m[key] = t
		}
		return t
	}

	for _, d := range txns {
		hours[d.Hour].add(d)
		days[d.DayOfWeek].add(d)
		group(periods, d.TimeOfDay).add(d)
		group(vendors, d.VendorID).add(d)
		group(custs, d.CustomerID).add(d)
		group(locs, d.LocationID).add(d)

		seen, ok := locCusts[d.LocationID]
		if !ok {
			seen = make(map[string]struct{})
			locCusts[d.LocationID] = seen
		}
		seen[d.CustomerID] = struct{}{}
	}

	visits := make(map[string]int64)
	for _, c := range checkins {
		visits[c.CustomerID]++
	}

	s := &Set{KPIs: ComputeKPIs(txns, checkins)}

	s.Hourly = make([]tables.HourlySalesRow, 24)
	for h := range hours {
		s.Hourly[h] = tables.HourlySalesRow{
			Hour:             int32(h),
			TimeOfDay:        buckets.Assign(h),
			TotalSales:       hours[h].sales,
			TransactionCount: hours[h].count,
			AvgTransaction:   hours[h].avg(),
		}
	}

	s.Daily = make([]tables.DailySalesRow, 7)
	for i := range days {
		s.Daily[i] = tables.DailySalesRow{
			DayNum:           int32(i),
			DayOfWeek:        time.Weekday((i + 1) % 7).String(),
			TotalSales:       days[i].sales,
			TransactionCount: days[i].count,
			AvgTransaction:   days[i].avg(),
		}
	}

	for _, b := range buckets.Buckets() {
		t := group(periods, b.Name)
		s.TimeOfDay = append(s.TimeOfDay, tables.TimeOfDaySalesRow{
			TimeOfDay:        b.Name,
			StartHour:        int32(b.Start),
			EndHour:          int32(b.End),
			TotalSales:       t.sales,
			TransactionCount: t.count,
			AvgTransaction:   t.avg(),
		})
	}

	for _, r := range ranked(vendors) {
		t := vendors[r.id]
		s.Vendors = append(s.Vendors, tables.VendorPerformanceRow{
			Rank:             r.rank,
			VendorID:         r.id,
			TotalSales:       t.sales,
			TransactionCount: t.count,
			AvgTransaction:   t.avg(),
			TotalProfit:      t.profit,
			ProfitMargin:     t.margin(),
		})
	}

	for _, r := range ranked(custs) {
		t := custs[r.id]
		s.Customers = append(s.Customers, tables.CustomerPerformanceRow{
			Rank:             r.rank,
			CustomerID:       r.id,
			TotalSpent:       t.sales,
			TransactionCount: t.count,
			AvgTransaction:   t.avg(),
			CheckinCount:     visits[r.id],
		})
	}

	for _, r := range ranked(locs) {
		t := locs[r.id]
		s.Locations = append(s.Locations, tables.LocationPerformanceRow{
			Rank:             r.rank,
			LocationID:       r.id,
			TotalSales:       t.sales,
			TransactionCount: t.count,
			UniqueCustomers:  int64(len(locCusts[r.id])),
		})
	}

	s.Enhanced = make([]tables.EnhancedTransactionRow, len(txns))
	for i, d := range txns {
		s.Enhanced[i] = enhance(d)
	}

	return s
}

type rankedID struct {
	id   string
	rank int32
}

// ranked orders groups by total sales descending, then id ascending, and
// assigns dense ranks: equal totals share a rank and the next rank is +1.
func ranked(groups map[string]*tally) []rankedID {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := groups[ids[i]].sales, groups[ids[j]].sales
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})

	out := make([]rankedID, len(ids))
	var rank int32
	for i, id := range ids {
		if i == 0 || groups[id].sales != groups[ids[i-1]].sales {
			rank++
		}
		out[i] = rankedID{id: id, rank: rank}
	}
	return out
}

func enhance(d records.Derived) tables.EnhancedTransactionRow {
	return tables.EnhancedTransactionRow{
		PurchaseDate: d.Timestamp,
		CustomerID:   d.CustomerID,
		VendorID:     d.VendorID,
		LocationID:   d.LocationID,
		ProductName:  d.Product,
		Quantity:     d.Quantity,
		UnitCost:     d.UnitCost,
		Price:        d.Price,
		Hour:         int32(d.Hour),
		DayNum:       int32(d.DayOfWeek),
		DayOfWeek:    d.DayName,
		TimeOfDay:    d.TimeOfDay,
		Date:         d.Date,
		YearMonth:    d.YearMonth,
		ISOWeek:      int32(d.ISOWeek),
		Profit:       d.Profit,
		ProfitMargin: d.ProfitMargin,
	}
}
