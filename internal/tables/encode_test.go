package tables

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
)

func readParquet[T Row](data []byte) ([]T, error) {
	return parquet.Read[T](bytes.NewReader(data), int64(len(data)))
}

func sampleTables() []Table {
	vendors := []VendorPerformanceRow{
		{Rank: 1, VendorID: "V2", TotalSales: 300.1, TransactionCount: 3, AvgTransaction: 100.03333333333333, TotalProfit: 60, ProfitMargin: 0.2},
		{Rank: 2, VendorID: "V1", TotalSales: 0.1 + 0.2, TransactionCount: 1, AvgTransaction: 0.1 + 0.2},
	}
	txns := []EnhancedTransactionRow{{
		PurchaseDate: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		CustomerID:   "C1",
		VendorID:     "V1",
		LocationID:   "L1",
		Quantity:     1,
		Price:        12.5,
		Hour:         9,
		DayOfWeek:    "Monday",
		TimeOfDay:    "Morning",
		Date:         "2024-03-04",
		YearMonth:    "2024-03",
		ISOWeek:      10,
	}}
	return []Table{NewView(vendors), NewView(txns)}
}

func TestEncodeCSV(t *testing.T) {
	files, err := Encode(sampleTables(), EncodeConfig{Formats: []Format{FormatCSV}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}

	vendors := files[0]
	if vendors.Name != "vendor_performance.csv" {
		t.Errorf("unexpected name %q", vendors.Name)
	}
	if vendors.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", vendors.RowCount)
	}
	want := "rank,vendor_id,total_sales,transaction_count,avg_transaction,total_profit,profit_margin\n" +
		"1,V2,300.1,3,100.033333,60,0.2\n" +
		"2,V1,0.3,1,0.3,0,0\n"
	if got := string(vendors.Data); got != want {
		t.Errorf("unexpected csv:\n%s\nwant:\n%s", got, want)
	}
	if err := VerifyChecksum(vendors.Name, vendors.Data, vendors.Checksum); err != nil {
		t.Errorf("checksum does not match data: %v", err)
	}

	if !strings.Contains(string(files[1].Data), "2024-03-04 09:30:00,C1,V1,L1,") {
		t.Errorf("enhanced transaction row not formatted as expected:\n%s", files[1].Data)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	cfg := DefaultEncodeConfig()
	a, err := Encode(sampleTables(), cfg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, err := Encode(sampleTables(), cfg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(a) != len(b) || len(a) != 4 {
		t.Fatalf("expected 4 files per run, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			t.Errorf("file %d: order differs: %s vs %s", i, a[i].Name, b[i].Name)
		}
		if a[i].Format == FormatCSV && !bytes.Equal(a[i].Data, b[i].Data) {
			t.Errorf("%s differs between runs", a[i].Name)
		}
	}
}

func TestEncodeParquetReadable(t *testing.T) {
	for _, codec := range []string{"snappy", "zstd", "none"} {
		t.Run(codec, func(t *testing.T) {
			files, err := Encode(sampleTables(), EncodeConfig{
				Formats:     []Format{FormatParquet},
				Compression: codec,
			})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			rows, err := readParquet[VendorPerformanceRow](files[0].Data)
			if err != nil {
				t.Fatalf("readParquet failed: %v", err)
			}
			if len(rows) != 2 || rows[0].VendorID != "V2" || rows[1].Rank != 2 {
				t.Errorf("unexpected rows: %+v", rows)
			}
		})
	}
}

func TestEncodeEmptyTableKeepsHeader(t *testing.T) {
	files, err := Encode([]Table{NewView([]LocationPerformanceRow{})}, DefaultEncodeConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := string(files[0].Data); got != "rank,location_id,total_sales,transaction_count,unique_customers\n" {
		t.Errorf("unexpected csv %q", got)
	}
	rows, err := readParquet[LocationPerformanceRow](files[1].Data)
	if err != nil {
		t.Fatalf("readParquet failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestEncodeRejectsUnknownOptions(t *testing.T) {
	if _, err := Encode(sampleTables(), EncodeConfig{Compression: "lz4000"}); err == nil {
		t.Error("expected error for unknown compression")
	}
	if _, err := ParseFormats([]string{"csv", "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	formats, err := ParseFormats([]string{" CSV", "parquet", "csv"})
	if err != nil {
		t.Fatalf("ParseFormats failed: %v", err)
	}
	if len(formats) != 2 || formats[0] != FormatCSV || formats[1] != FormatParquet {
		t.Errorf("unexpected formats %v", formats)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1 + 0.2, 0.3},
		{-0.0000001, 0},
		{100, 100},
	}
	for _, tt := range tests {
		if got := Round(tt.in, 6); got != tt.want {
			t.Errorf("Round(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("hour,total_sales\n")
	sum := ComputeChecksum(data)
	if !strings.HasPrefix(sum, "sha256:") || len(sum) != len("sha256:")+64 {
		t.Fatalf("unexpected checksum form %q", sum)
	}
	if err := VerifyChecksum("hourly_sales.csv", data, sum); err != nil {
		t.Errorf("VerifyChecksum failed: %v", err)
	}

	tampered := append([]byte(nil), data...)
	tampered[0] = 'H'
	if err := VerifyChecksum("hourly_sales.csv", tampered, sum); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := VerifyChecksum("hourly_sales.csv", data, "md5:abc"); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch for foreign digest, got %v", err)
	}
}
