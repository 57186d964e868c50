package records

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var zipMagic = []byte("PK\x03\x04")

// Parser turns an uncompressed source document into records.
type Parser struct {
	loc *time.Location
	log *slog.Logger
}

// NewParser creates a parser that reads zone-less timestamps in loc.
// A nil loc means UTC.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{
		loc: loc,
		log: slog.With("component", "records"),
	}
}

// Parse reads an xlsx workbook or a CSV file. Rows failing validation are
// dropped and counted; a missing required column fails the whole parse.
func (p *Parser) Parse(data []byte) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrSchema)
	}

	var (
		res *Result
		err error
	)
	switch {
	case bytes.HasPrefix(data, zipMagic):
		res, err = p.parseWorkbook(data)
	default:
		res, err = p.parseCSV(data)
	}
	if err != nil {
		return nil, err
	}

	p.log.Info("parsed source",
		"format", res.Format,
		"transactions", len(res.Transactions),
		"checkins", len(res.Checkins),
		"rejected_transactions", res.Rejections.Transactions,
		"rejected_checkins", res.Rejections.Checkins,
	)
	return res, nil
}

func (p *Parser) parseWorkbook(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrSchema, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrSchema)
	}

	txSheet := findSheet(sheets, "purchase")
	if txSheet == "" {
		txSheet = sheets[0]
	}
	ckSheet := findSheet(sheets, "checkin")
	if ckSheet == txSheet {
		ckSheet = ""
	}

	res := &Result{Format: "xlsx", TransactionSheet: txSheet, CheckinSheet: ckSheet}

	rows, err := f.GetRows(txSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrSchema, txSheet, err)
	}
	if err := p.readTransactions(res, txSheet, rows); err != nil {
		return nil, err
	}

	if ckSheet != "" {
		rows, err := f.GetRows(ckSheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrSchema, ckSheet, err)
		}
		if err := p.readCheckins(res, ckSheet, rows); err != nil {
			return nil, err
		}
	} else {
		p.log.Warn("no check-in sheet found, continuing with transactions only", "sheets", sheets)
	}

	return res, nil
}

func (p *Parser) parseCSV(data []byte) (*Result, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	if enc != "utf-8" {
		p.log.Info("decoded csv", "encoding", enc)
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", ErrSchema, err)
	}

	res := &Result{Format: "csv", TransactionSheet: "csv"}
	if err := p.readTransactions(res, "csv", rows); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Parser) readTransactions(res *Result, sheet string, rows [][]string) error {
	headerAt, header := headerRow(rows)
	if header == nil {
		return fmt.Errorf("%w: %s sheet %q has no header row", ErrSchema, setTransactions, sheet)
	}
	cols, err := resolveColumns(setTransactions, sheet, header, transactionAliases, transactionRequired)
	if err != nil {
		return err
	}
	res.HasCost = cols.has(fieldUnitCost)

	for i := headerAt + 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}

		ts, err := parseTimestamp(cols.cell(row, fieldTimestamp), p.loc)
		if err != nil {
			res.Rejections.add(setTransactions, reason("timestamp", err))
			continue
		}
		price, err := parseAmount(cols.cell(row, fieldPrice))
		if err != nil {
			res.Rejections.add(setTransactions, reason("price", err))
			continue
		}

		res.Transactions = append(res.Transactions, Transaction{
			Timestamp:  ts,
			CustomerID: identifier(cols.cell(row, fieldCustomer)),
			VendorID:   identifier(cols.cell(row, fieldVendor)),
			LocationID: identifier(cols.cell(row, fieldLocation)),
			Product:    cols.cell(row, fieldProduct),
			Quantity:   parseOptional(cols.cell(row, fieldQuantity), 1),
			UnitCost:   parseOptional(cols.cell(row, fieldUnitCost), 0),
			Price:      price,
			CostKnown:  res.HasCost,
			Row:        i + 1,
		})
	}
	return nil
}

func (p *Parser) readCheckins(res *Result, sheet string, rows [][]string) error {
	headerAt, header := headerRow(rows)
	if header == nil {
		// An empty check-in sheet carries no records.
		return nil
	}
	cols, err := resolveColumns(setCheckins, sheet, header, checkinAliases, checkinRequired)
	if err != nil {
		return err
	}

	for i := headerAt + 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		ts, err := parseTimestamp(cols.cell(row, fieldTimestamp), p.loc)
		if err != nil {
			res.Rejections.add(setCheckins, reason("timestamp", err))
			continue
		}
		res.Checkins = append(res.Checkins, Checkin{
			Timestamp:  ts,
			CustomerID: identifier(cols.cell(row, fieldCustomer)),
			Row:        i + 1,
		})
	}
	return nil
}

// findSheet returns the first sheet whose normalized name contains keyword.
func findSheet(sheets []string, keyword string) string {
	for _, s := range sheets {
		n := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(s))
		if strings.Contains(n, keyword) {
			return s
		}
	}
	return ""
}

// headerRow returns the first non-blank row.
func headerRow(rows [][]string) (int, []string) {
	for i, row := range rows {
		if !blankRow(row) {
			return i, row
		}
	}
	return -1, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
