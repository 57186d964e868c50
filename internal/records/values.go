package records

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	errMissing = errors.New("missing")
	errInvalid = errors.New("invalid")
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"1/2/06 15:04",
	"1/2/06",
}

// Upper bound of an Excel serial date (9999-12-31).
const maxExcelSerial = 2958465

// parseTimestamp accepts Excel serial dates, RFC 3339 and the common layouts
// above. Values without a zone are read in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, errMissing
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(serial) || serial < 1 || serial > maxExcelSerial {
			return time.Time{}, errInvalid
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, errInvalid
		}
		t = t.Round(time.Second)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errInvalid
}

var amountReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

// parseAmount parses a money value, tolerating currency symbols, thousands
// separators and accounting-style negatives.
func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, errMissing
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = amountReplacer.Replace(s)
	if s == "" {
		return 0, errMissing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errInvalid
	}
	if neg {
		v = -v
	}
	return v, nil
}

// parseOptional returns def when s is blank or not a number.
func parseOptional(s string, def float64) float64 {
	v, err := parseAmount(s)
	if err != nil {
		return def
	}
	return v
}

// identifier returns s, or UnknownID when blank.
func identifier(s string) string {
	if s == "" {
		return UnknownID
	}
	return s
}

// reason maps a value error to a rejection reason.
func reason(what string, err error) string {
	if errors.Is(err, errMissing) {
		return "missing_" + what
	}
	return "invalid_" + what
}
