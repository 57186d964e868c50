// Package records parses the raw source document into typed transaction and
// check-in records and derives the per-row analytic fields.
package records

import (
	"errors"
	"sort"
	"time"
)

// ErrSchema is returned when the source document does not have the expected shape.
// It is fatal for a run; individual bad rows are rejected instead.
var ErrSchema = errors.New("source schema invalid")

// UnknownID replaces blank customer, vendor and location identifiers so that
// every accepted row belongs to exactly one group.
const UnknownID = "(unknown)"

// Transaction is one purchase event.
type Transaction struct {
	Timestamp  time.Time
	CustomerID string
	VendorID   string
	LocationID string
	Product    string
	Quantity   float64
	UnitCost   float64
	Price      float64 // discounted sale price

	// CostKnown is false when the source has no cost column.
	CostKnown bool
	Row       int // 1-based row in the source sheet
}

// Checkin is one customer visit event.
type Checkin struct {
	Timestamp  time.Time
	CustomerID string
	Row        int
}

// Derived is a Transaction plus fields computed from it.
type Derived struct {
	Transaction

	Hour         int    // 0-23
	DayOfWeek    int    // Monday=0 .. Sunday=6
	DayName      string // "Monday"
	TimeOfDay    string // bucket name
	Date         string // 2006-01-02
	YearMonth    string // 2006-01
	ISOYear      int
	ISOWeek      int
	Profit       float64
	ProfitMargin float64 // fraction, 0 when price is 0
}

// Rejections tallies rows dropped by per-row validation.
type Rejections struct {
	Transactions int            `json:"transactions"`
	Checkins     int            `json:"checkins"`
	Reasons      map[string]int `json:"reasons,omitempty"`
}

// Total returns the number of rejected rows across both record sets.
func (r Rejections) Total() int {
	return r.Transactions + r.Checkins
}

// ReasonKeys returns the rejection reasons in sorted order.
func (r Rejections) ReasonKeys() []string {
	keys := make([]string, 0, len(r.Reasons))
	for k := range r.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Rejections) add(set, reason string) {
	switch set {
	case setTransactions:
		r.Transactions++
	case setCheckins:
		r.Checkins++
	}
	if r.Reasons == nil {
		r.Reasons = make(map[string]int)
	}
	r.Reasons[set+"/"+reason]++
}

// Result is the output of Parse.
type Result struct {
	Transactions []Transaction
	Checkins     []Checkin
	Rejections   Rejections

	Format           string // "xlsx" | "csv"
	TransactionSheet string
	CheckinSheet     string // empty when the source has no check-ins
	HasCost          bool
}

const (
	setTransactions = "transactions"
	setCheckins     = "checkins"
)
