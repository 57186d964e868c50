package aggregate

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInconsistent is returned when the views disagree with the KPIs.
var ErrInconsistent = errors.New("aggregate cross-check failed")

// salesTolerance is the relative tolerance for comparing summed sales.
const salesTolerance = 1e-6

// ValidationResult contains the outcome of the aggregate cross-checks.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// Err returns nil when the checks passed, otherwise ErrInconsistent
// carrying every failed check.
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInconsistent, strings.Join(r.Errors, "; "))
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate cross-checks the views of s against its KPIs before publish:
//   - hourly has 24 rows and daily has 7
//   - vendor, customer and location totals sum to total sales
//   - every grouping accounts for every transaction
func Validate(s *Set) ValidationResult {
	result := ValidationResult{Passed: true}
	if s == nil {
		result.fail("no aggregate set")
		return result
	}
	k := s.KPIs

	if len(s.Hourly) != 24 {
		result.fail("hourly view has %d rows, expected 24", len(s.Hourly))
	}
	for i, r := range s.Hourly {
		if int(r.Hour) != i {
			result.fail("hourly row %d has hour %d", i, r.Hour)
			break
		}
	}
	if len(s.Daily) != 7 {
		result.fail("daily view has %d rows, expected 7", len(s.Daily))
	}

	var vendorSales, customerSales, locationSales float64
	for _, r := range s.Vendors {
		vendorSales += r.TotalSales
	}
	for _, r := range s.Customers {
		customerSales += r.TotalSpent
	}
	for _, r := range s.Locations {
		locationSales += r.TotalSales
	}
	sums := []struct {
		name string
		sum  float64
	}{
		{"vendor", vendorSales},
		{"customer", customerSales},
		{"location", locationSales},
	}
	// Refunds can net the total close to zero, so the tolerance scales with
	// gross sales rather than the net total.
	var gross float64
	for _, r := range s.Enhanced {
		gross += math.Abs(r.Price)
	}
	for _, g := range sums {
		if !closeEnough(g.sum, k.TotalSales, gross) {
			result.fail("%s sales sum %.6f != total sales %.6f", g.name, g.sum, k.TotalSales)
		}
	}

	counts := map[string]int64{}
	for _, r := range s.Hourly {
		counts["hourly"] += r.TransactionCount
	}
	for _, r := range s.Daily {
		counts["daily"] += r.TransactionCount
	}
	for _, r := range s.TimeOfDay {
		counts["time_of_day"] += r.TransactionCount
	}
	for _, r := range s.Vendors {
		counts["vendor"] += r.TransactionCount
	}
	for _, r := range s.Customers {
		counts["customer"] += r.TransactionCount
	}
	for _, name := range []string{"hourly", "daily", "time_of_day", "vendor", "customer"} {
		if counts[name] != k.TotalTransactions {
			result.fail("%s transaction count %d != total transactions %d", name, counts[name], k.TotalTransactions)
		}
	}
	if int64(len(s.Enhanced)) != k.TotalTransactions {
		result.fail("enhanced export has %d rows, expected %d", len(s.Enhanced), k.TotalTransactions)
	}

	if k.TotalTransactions == 0 {
		result.Warnings = append(result.Warnings, "no transactions accepted")
	}
	return result
}

func closeEnough(a, b, scale float64) bool {
	scale = math.Max(scale, math.Max(1, math.Max(math.Abs(a), math.Abs(b))))
	return math.Abs(a-b) <= salesTolerance*scale
}
