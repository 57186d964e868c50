package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func testPublication(gen string) Publication {
	return Publication{
		Destination:       "/srv/exports",
		Generation:        gen,
		SourceFingerprint: "sha256:src",
		Tables: map[string]TableInfo{
			"kpis.csv": {Checksum: "sha256:k", RowCount: 10, ByteSize: 300},
		},
		Producer: ProducerInfo{Name: "retail-sync", Version: "test"},
	}
}

func newTestEmitter(t *testing.T, cfg Config) *ChainEmitter {
	t.Helper()
	cfg.Enabled = true
	if cfg.BackupDir == "" {
		cfg.BackupDir = t.TempDir()
	}
	em, err := NewEmitter(cfg)
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	ce := em.(*ChainEmitter)
	if ce.poster != nil {
		ce.poster.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	return ce
}

func TestFileOnlyEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	em := newTestEmitter(t, Config{BackupDir: dir})
	ctx := context.Background()

	first, err := em.Emit(ctx, testPublication("g1"))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	second, err := em.Emit(ctx, testPublication("g2"))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if first.Chain.PrevEventHash != "" {
		t.Errorf("first event should start the chain, got %s", first.Chain.PrevEventHash)
	}
	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second event should link to the first")
	}

	data, err := os.ReadFile(em.backup.Path(second))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	var saved Event
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if saved.Chain.EventHash != second.Chain.EventHash || saved.EventType != "artifacts_published" {
		t.Errorf("unexpected backup %+v", saved)
	}

	// Chain heads survive a restart.
	reopened := newTestEmitter(t, Config{BackupDir: dir})
	third, err := reopened.Emit(ctx, testPublication("g3"))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if third.Chain.PrevEventHash != second.Chain.EventHash {
		t.Error("chain head was not persisted")
	}
}

func TestHTTPEmitterRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil || evt.Generation != "g1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	em := newTestEmitter(t, Config{Endpoint: srv.URL, MaxAttempts: 3})
	if _, err := em.Emit(context.Background(), testPublication("g1")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestHTTPEmitterDoesNotAdvanceChainOnFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	em := newTestEmitter(t, Config{Endpoint: srv.URL, MaxAttempts: 3})
	if _, err := em.Emit(context.Background(), testPublication("g1")); err == nil {
		t.Fatal("expected error for rejected event")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("client errors should not be retried, got %d attempts", got)
	}
	if _, err := em.tracker.Head("/srv/exports"); !errors.Is(err, ErrNoChainHead) {
		t.Errorf("chain head should not advance, got %v", err)
	}
	if _, err := os.Stat(em.backup.Path(&Event{Generation: "g1"})); err != nil {
		t.Errorf("backup should be written even when delivery fails: %v", err)
	}
}

func TestDisabledEmitterIsNoop(t *testing.T) {
	em, err := NewEmitter(Config{})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	evt, err := em.Emit(context.Background(), testPublication("g1"))
	if err != nil || evt != nil {
		t.Errorf("noop emitter returned %v, %v", evt, err)
	}
}
