package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()

	held, err := TryAcquire(dir, "/srv/exports")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}

	if _, err := TryAcquire(dir, "/srv/exports"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire should be busy, got %v", err)
	}

	other, err := TryAcquire(dir, "/srv/other")
	if err != nil {
		t.Fatalf("a different destination must not contend: %v", err)
	}
	other.Release()

	if err := held.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	again, err := TryAcquire(dir, "/srv/exports")
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	again.Release()
}

func TestTryAcquireTreatsSpellingsAsOneDestination(t *testing.T) {
	dir := t.TempDir()
	dest := t.TempDir()

	held, err := TryAcquire(dir, dest)
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	defer held.Release()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, dest)
	if err != nil {
		t.Fatal(err)
	}

	for _, spelling := range []string{dest + "/", "file://" + filepath.ToSlash(dest), rel, dest + "/sub/.."} {
		if _, err := TryAcquire(dir, spelling); !errors.Is(err, ErrBusy) {
			t.Errorf("TryAcquire(%q) = %v, want ErrBusy", spelling, err)
		}
		if Path(dir, spelling) != held.Path() {
			t.Errorf("Path(%q) differs from the held lock", spelling)
		}
	}
}

func TestTryAcquireRejectsInvalidDestination(t *testing.T) {
	if _, err := TryAcquire(t.TempDir(), "ftp://example.com/x"); err == nil {
		t.Error("expected error for unsupported destination")
	}
}
