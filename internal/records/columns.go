package records

import (
	"fmt"
	"strings"
)

type field int

const (
	fieldTimestamp field = iota
	fieldCustomer
	fieldVendor
	fieldLocation
	fieldProduct
	fieldQuantity
	fieldUnitCost
	fieldPrice
)

func (f field) String() string {
	switch f {
	case fieldTimestamp:
		return "timestamp"
	case fieldCustomer:
		return "customer"
	case fieldVendor:
		return "vendor"
	case fieldLocation:
		return "location"
	case fieldProduct:
		return "product"
	case fieldQuantity:
		return "quantity"
	case fieldUnitCost:
		return "unit_cost"
	case fieldPrice:
		return "price"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Accepted header names per field, in priority order.
var (
	transactionAliases = map[field][]string{
		fieldTimestamp: {"purchase_date", "purchase_datetime", "transaction_date", "timestamp", "date"},
		fieldCustomer:  {"customer_guid", "customer_id", "customer_name", "customer"},
		fieldVendor:    {"vendor_name", "vendor_id", "vendor", "brand"},
		fieldLocation:  {"purchase_location", "location", "store", "store_name"},
		fieldProduct:   {"product_name", "product", "item"},
		fieldQuantity:  {"quantity", "qty"},
		fieldUnitCost:  {"unit_cost", "cost", "cogs", "wholesale_cost"},
		fieldPrice:     {"purchase_price_w_discount", "price_w_discount", "discounted_price", "price", "amount", "sales"},
	}
	transactionRequired = []field{fieldTimestamp, fieldCustomer, fieldVendor, fieldPrice}

	checkinAliases = map[field][]string{
		fieldTimestamp: {"checkin_date", "checkin_datetime", "checkin_time", "timestamp", "date"},
		fieldCustomer:  {"customer_guid", "customer_id", "customer_name", "customer"},
	}
	checkinRequired = []field{fieldTimestamp, fieldCustomer}
)

// normalizeHeader trims, lower-cases and snake-cases a header cell.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

// columnMap maps a field to its column index.
type columnMap map[field]int

// resolveColumns locates each aliased field in header. Missing required fields
// are reported together as one ErrSchema.
func resolveColumns(set, sheet string, header []string, aliases map[field][]string, required []field) (columnMap, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if n == "" {
			continue
		}
		if _, dup := index[n]; !dup {
			index[n] = i
		}
	}

	cols := make(columnMap)
	for f, names := range aliases {
		for _, name := range names {
			if i, ok := index[name]; ok {
				cols[f] = i
				break
			}
		}
	}

	var missing []string
	for _, f := range required {
		if _, ok := cols[f]; !ok {
			missing = append(missing, fmt.Sprintf("%s (one of %s)", f, strings.Join(aliases[f], ", ")))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s sheet %q is missing required columns: %s",
			ErrSchema, set, sheet, strings.Join(missing, "; "))
	}
	return cols, nil
}

// cell returns the trimmed value of f in row, or "" when absent.
func (c columnMap) cell(row []string, f field) string {
	i, ok := c[f]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columnMap) has(f field) bool {
	_, ok := c[f]
	return ok
}
