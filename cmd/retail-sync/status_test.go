package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/pipeline"
	"github.com/withObsrvr/retail-sync/internal/storage"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// publishFixture finalizes one generation holding kpis.csv and returns its id.
func publishFixture(t *testing.T, dir string) string {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer store.Close()

	data := []byte("metric,value,format\ntotal_sales,42.00,currency\n")
	gen := storage.NewGenerationID()
	if err := store.WriteTemp(ctx, gen, "kpis.csv", data); err != nil {
		t.Fatalf("WriteTemp failed: %v", err)
	}
	m := &storage.Manifest{
		RowCounts: map[string]int64{"kpis": 1},
		Tables: map[string]storage.TableInfo{
			"kpis.csv": {Table: "kpis", Format: "csv", Checksum: tables.ComputeChecksum(data), RowCount: 1, ByteSize: int64(len(data))},
		},
		Producer: storage.ProducerInfo{Name: pipeline.ProducerName, Version: "test"},
	}
	if _, err := storage.WriteManifestTemp(ctx, store, gen, m); err != nil {
		t.Fatalf("WriteManifestTemp failed: %v", err)
	}
	if err := store.Finalize(ctx, gen); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return gen
}

func statusConfig(t *testing.T, dest string) *config.Config {
	return &config.Config{
		Destination: dest,
		State:       config.StateConfig{Dir: t.TempDir()},
	}
}

func TestStatusNothingPublished(t *testing.T) {
	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, statusConfig(t, t.TempDir()), true); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	for _, want := range []string{"never run", "nothing published yet"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStatusVerifiesPublishedGeneration(t *testing.T) {
	dir := t.TempDir()
	gen := publishFixture(t, dir)

	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, statusConfig(t, dir+"/"), true); err != nil {
		t.Fatalf("runStatus failed: %v\n%s", err, out.String())
	}
	for _, want := range []string{gen, "kpis ", "kpis.csv", "ok", "Retained:    1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStatusVerifyReportsCorruption(t *testing.T) {
	dir := t.TempDir()
	gen := publishFixture(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "generations", gen, "kpis.csv"), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := runStatus(context.Background(), &out, statusConfig(t, dir), true)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != pipeline.ExitWrite {
		t.Fatalf("expected exit %d, got %v", pipeline.ExitWrite, err)
	}
	if !errors.Is(err, tables.ErrChecksumMismatch) {
		t.Errorf("expected checksum mismatch, got %v", err)
	}
	if !strings.Contains(out.String(), "FAILED") {
		t.Errorf("output should flag the file:\n%s", out.String())
	}
}

func TestVerifyGenerationReadsTheResolvedGeneration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first := publishFixture(t, dir)

	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	m, err := storage.ReadGenerationManifest(ctx, store, first)
	if err != nil {
		t.Fatalf("ReadGenerationManifest failed: %v", err)
	}

	// A publish that lands mid-check must not cause false mismatches.
	second := publishFixture(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "generations", second, "kpis.csv"), []byte("newer"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := verifyGeneration(ctx, &out, store, first, m); err != nil {
		t.Errorf("verifyGeneration failed: %v\n%s", err, out.String())
	}
}
