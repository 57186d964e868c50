package tables

import (
	"strconv"
	"time"
)

// HourlySalesRow is one hour of the day. The table always has 24 rows.
type HourlySalesRow struct {
	Hour             int32   `parquet:"hour"`
	TimeOfDay        string  `parquet:"time_of_day"`
	TotalSales       float64 `parquet:"total_sales"`
	TransactionCount int64   `parquet:"transaction_count"`
	AvgTransaction   float64 `parquet:"avg_transaction"`
}

// TableName returns the canonical table name.
func (HourlySalesRow) TableName() string { return "hourly_sales" }

// CSVHeader returns the column names.
func (HourlySalesRow) CSVHeader() []string {
	return []string{"hour", "time_of_day", "total_sales", "transaction_count", "avg_transaction"}
}

// CSVRecord returns the row as strings.
func (r HourlySalesRow) CSVRecord() []string {
	return []string{itoa(int64(r.Hour)), r.TimeOfDay, ftoa(r.TotalSales), itoa(r.TransactionCount), ftoa(r.AvgTransaction)}
}

// DailySalesRow is one weekday, Monday=0. The table always has 7 rows.
type DailySalesRow struct {
	DayNum           int32   `parquet:"day_num"`
	DayOfWeek        string  `parquet:"day_of_week"`
	TotalSales       float64 `parquet:"total_sales"`
	TransactionCount int64   `parquet:"transaction_count"`
	AvgTransaction   float64 `parquet:"avg_transaction"`
}

func (DailySalesRow) TableName() string { return "daily_sales" }

func (DailySalesRow) CSVHeader() []string {
	return []string{"day_num", "day_of_week", "total_sales", "transaction_count", "avg_transaction"}
}

func (r DailySalesRow) CSVRecord() []string {
	return []string{itoa(int64(r.DayNum)), r.DayOfWeek, ftoa(r.TotalSales), itoa(r.TransactionCount), ftoa(r.AvgTransaction)}
}

// TimeOfDaySalesRow is one time-of-day bucket.
type TimeOfDaySalesRow struct {
	TimeOfDay        string  `parquet:"time_of_day"`
	StartHour        int32   `parquet:"start_hour"`
	EndHour          int32   `parquet:"end_hour"`
	TotalSales       float64 `parquet:"total_sales"`
	TransactionCount int64   `parquet:"transaction_count"`
	AvgTransaction   float64 `parquet:"avg_transaction"`
}

func (TimeOfDaySalesRow) TableName() string { return "time_of_day_sales" }

func (TimeOfDaySalesRow) CSVHeader() []string {
	return []string{"time_of_day", "start_hour", "end_hour", "total_sales", "transaction_count", "avg_transaction"}
}

func (r TimeOfDaySalesRow) CSVRecord() []string {
	return []string{r.TimeOfDay, itoa(int64(r.StartHour)), itoa(int64(r.EndHour)), ftoa(r.TotalSales), itoa(r.TransactionCount), ftoa(r.AvgTransaction)}
}

// VendorPerformanceRow is one distinct vendor.
type VendorPerformanceRow struct {
	Rank             int32   `parquet:"rank"`
	VendorID         string  `parquet:"vendor_id"`
	TotalSales       float64 `parquet:"total_sales"`
	TransactionCount int64   `parquet:"transaction_count"`
	AvgTransaction   float64 `parquet:"avg_transaction"`
	TotalProfit      float64 `parquet:"total_profit"`
	ProfitMargin     float64 `parquet:"profit_margin"`
}

func (VendorPerformanceRow) TableName() string { return "vendor_performance" }

func (VendorPerformanceRow) CSVHeader() []string {
	return []string{"rank", "vendor_id", "total_sales", "transaction_count", "avg_transaction", "total_profit", "profit_margin"}
}

func (r VendorPerformanceRow) CSVRecord() []string {
	return []string{itoa(int64(r.Rank)), r.VendorID, ftoa(r.TotalSales), itoa(r.TransactionCount), ftoa(r.AvgTransaction), ftoa(r.TotalProfit), ftoa(r.ProfitMargin)}
}

// CustomerPerformanceRow is one distinct customer.
type CustomerPerformanceRow struct {
	Rank             int32   `parquet:"rank"`
	CustomerID       string  `parquet:"customer_id"`
	TotalSpent       float64 `parquet:"total_spent"`
	TransactionCount int64   `parquet:"transaction_count"`
	AvgTransaction   float64 `parquet:"avg_transaction"`
	CheckinCount     int64   `parquet:"checkin_count"`
}

func (CustomerPerformanceRow) TableName() string { return "customer_performance" }

func (CustomerPerformanceRow) CSVHeader() []string {
	return []string{"rank", "customer_id", "total_spent", "transaction_count", "avg_transaction", "checkin_count"}
}

func (r CustomerPerformanceRow) CSVRecord() []string {
	return []string{itoa(int64(r.Rank)), r.CustomerID, ftoa(r.TotalSpent), itoa(r.TransactionCount), ftoa(r.AvgTransaction), itoa(r.CheckinCount)}
}

// LocationPerformanceRow is one distinct purchase location.
type LocationPerformanceRow struct {
	Rank             int32   `parquet:"rank"`
	LocationID       string  `parquet:"location_id"`
	TotalSales       float64 `parquet:"total_sales"`
	TransactionCount int64   `parquet:"transaction_count"`
	UniqueCustomers  int64   `parquet:"unique_customers"`
}

func (LocationPerformanceRow) TableName() string { return "location_performance" }

func (LocationPerformanceRow) CSVHeader() []string {
	return []string{"rank", "location_id", "total_sales", "transaction_count", "unique_customers"}
}

func (r LocationPerformanceRow) CSVRecord() []string {
	return []string{itoa(int64(r.Rank)), r.LocationID, ftoa(r.TotalSales), itoa(r.TransactionCount), itoa(r.UniqueCustomers)}
}

// KPIRow is one named scalar metric. Display is the value formatted per Format.
type KPIRow struct {
	Metric  string  `parquet:"metric"`
	Value   float64 `parquet:"value"`
	Display string  `parquet:"display"`
	Format  string  `parquet:"format"` // "currency" | "number" | "percent" | "date"
}

func (KPIRow) TableName() string { return "kpis" }

func (KPIRow) CSVHeader() []string {
	return []string{"metric", "value", "display", "format"}
}

func (r KPIRow) CSVRecord() []string {
	return []string{r.Metric, ftoa(r.Value), r.Display, r.Format}
}

// EnhancedTransactionRow is one accepted transaction with its derived fields.
type EnhancedTransactionRow struct {
	PurchaseDate time.Time `parquet:"purchase_date,timestamp(millisecond)"`
	CustomerID   string    `parquet:"customer_id"`
	VendorID     string    `parquet:"vendor_id"`
	LocationID   string    `parquet:"location_id"`
	ProductName  string    `parquet:"product_name"`
	Quantity     float64   `parquet:"quantity"`
	UnitCost     float64   `parquet:"unit_cost"`
	Price        float64   `parquet:"price"`
	Hour         int32     `parquet:"hour"`
	DayNum       int32     `parquet:"day_num"`
	DayOfWeek    string    `parquet:"day_of_week"`
	TimeOfDay    string    `parquet:"time_of_day"`
	Date         string    `parquet:"date"`
	YearMonth    string    `parquet:"year_month"`
	ISOWeek      int32     `parquet:"iso_week"`
	Profit       float64   `parquet:"profit"`
	ProfitMargin float64   `parquet:"profit_margin"`
}

func (EnhancedTransactionRow) TableName() string { return "transactions_enhanced" }

func (EnhancedTransactionRow) CSVHeader() []string {
	return []string{
		"purchase_date", "customer_id", "vendor_id", "location_id", "product_name",
		"quantity", "unit_cost", "price", "hour", "day_num", "day_of_week",
		"time_of_day", "date", "year_month", "iso_week", "profit", "profit_margin",
	}
}

func (r EnhancedTransactionRow) CSVRecord() []string {
	return []string{
		r.PurchaseDate.Format("2006-01-02 15:04:05"), r.CustomerID, r.VendorID, r.LocationID, r.ProductName,
		ftoa(r.Quantity), ftoa(r.UnitCost), ftoa(r.Price), itoa(int64(r.Hour)), itoa(int64(r.DayNum)), r.DayOfWeek,
		r.TimeOfDay, r.Date, r.YearMonth, itoa(int64(r.ISOWeek)), ftoa(r.Profit), ftoa(r.ProfitMargin),
	}
}

// SchemaVersion returns the version of the published table layout.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ftoa formats a float rounded to 6 decimals so summation noise
// (0.30000000000000004) does not leak into the files.
func ftoa(v float64) string {
	return strconv.FormatFloat(Round(v, 6), 'f', -1, 64)
}
