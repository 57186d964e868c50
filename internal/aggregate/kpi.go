package aggregate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/retail-sync/internal/records"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// DateRange is the observed span of transaction timestamps.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether no transactions were observed.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// KPISet holds the scalar metrics of one run.
type KPISet struct {
	TotalSales        float64
	TotalTransactions int64
	AvgBasket         float64
	TotalProfit       float64
	ProfitMargin      float64 // fraction of sales, 0 when sales is 0
	UniqueCustomers   int64
	UniqueVendors     int64
	TotalCheckins     int64
	DateRange         DateRange
}

// ComputeKPIs computes the scalar metrics directly from the derived set,
// independently of the grouped views.
func ComputeKPIs(txns []records.Derived, checkins []records.Checkin) KPISet {
	k := KPISet{
		TotalTransactions: int64(len(txns)),
		TotalCheckins:     int64(len(checkins)),
	}
	customers := make(map[string]struct{})
	vendors := make(map[string]struct{})

	for i, d := range txns {
		k.TotalSales += d.Price
		k.TotalProfit += d.Profit
		customers[d.CustomerID] = struct{}{}
		vendors[d.VendorID] = struct{}{}

		if i == 0 || d.Timestamp.Before(k.DateRange.Start) {
			k.DateRange.Start = d.Timestamp
		}
		if i == 0 || d.Timestamp.After(k.DateRange.End) {
			k.DateRange.End = d.Timestamp
		}
	}

	k.UniqueCustomers = int64(len(customers))
	k.UniqueVendors = int64(len(vendors))
	if k.TotalTransactions > 0 {
		k.AvgBasket = k.TotalSales / float64(k.TotalTransactions)
	}
	if k.TotalSales != 0 {
		k.ProfitMargin = k.TotalProfit / k.TotalSales
	}
	return k
}

// Rows returns the KPI table in a fixed metric order.
func (k KPISet) Rows() []tables.KPIRow {
	rows := []tables.KPIRow{
		currencyRow("total_sales", k.TotalSales),
		countRow("total_transactions", k.TotalTransactions),
		currencyRow("avg_basket", k.AvgBasket),
		currencyRow("total_profit", k.TotalProfit),
		{
			Metric:  "profit_margin",
			Value:   k.ProfitMargin,
			Display: strconv.FormatFloat(tables.Round(k.ProfitMargin*100, 1), 'f', 1, 64) + "%",
			Format:  "percent",
		},
		countRow("unique_customers", k.UniqueCustomers),
		countRow("unique_vendors", k.UniqueVendors),
		countRow("total_checkins", k.TotalCheckins),
	}
	return append(rows, dateRow("date_start", k.DateRange.Start), dateRow("date_end", k.DateRange.End))
}

func currencyRow(metric string, v float64) tables.KPIRow {
	return tables.KPIRow{Metric: metric, Value: v, Display: formatCurrency(v), Format: "currency"}
}

func countRow(metric string, v int64) tables.KPIRow {
	return tables.KPIRow{Metric: metric, Value: float64(v), Display: groupThousands(strconv.FormatInt(v, 10)), Format: "number"}
}

// dateRow stores the date as Unix seconds; both fields are empty when no
// transaction was observed.
func dateRow(metric string, ts time.Time) tables.KPIRow {
	row := tables.KPIRow{Metric: metric, Format: "date"}
	if !ts.IsZero() {
		row.Value = float64(ts.Unix())
		row.Display = ts.Format("2006-01-02")
	}
	return row
}

// formatCurrency renders v as "$1,234.56" or "-$1,234.56".
func formatCurrency(v float64) string {
	cents := math.Round(v * 100)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatFloat(math.Floor(cents/100), 'f', 0, 64)
	return fmt.Sprintf("%s$%s.%02d", sign, groupThousands(whole), int64(math.Mod(cents, 100)))
}

func groupThousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
