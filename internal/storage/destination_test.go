package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalDestinationLocalSpellings(t *testing.T) {
	dir := t.TempDir()
	want, err := CanonicalDestination(dir)
	if err != nil {
		t.Fatalf("CanonicalDestination failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, spelling := range []string{
		dir + string(filepath.Separator),
		dir + "/./",
		"file://" + filepath.ToSlash(dir),
		"file://localhost" + filepath.ToSlash(dir),
		"  " + dir + "  ",
		rel,
	} {
		got, err := CanonicalDestination(spelling)
		if err != nil {
			t.Errorf("CanonicalDestination(%q) failed: %v", spelling, err)
			continue
		}
		if got != want {
			t.Errorf("CanonicalDestination(%q) = %q, want %q", spelling, got, want)
		}
	}
}

func TestCanonicalDestinationStableAcrossCreation(t *testing.T) {
	base := t.TempDir()
	link := filepath.Join(base, "link")
	if err := os.Symlink(base, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	dest := filepath.Join(link, "out")

	before, err := CanonicalDestination(dest)
	if err != nil {
		t.Fatalf("CanonicalDestination failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(base, "out"), 0755); err != nil {
		t.Fatal(err)
	}
	after, err := CanonicalDestination(dest)
	if err != nil {
		t.Fatalf("CanonicalDestination failed: %v", err)
	}
	if before != after {
		t.Errorf("canonical form changed after creation: %q vs %q", before, after)
	}
	direct, _ := CanonicalDestination(filepath.Join(base, "out"))
	if after != direct {
		t.Errorf("symlinked spelling %q differs from %q", after, direct)
	}
}

func TestCanonicalDestinationBlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"gs://bucket", "gs://bucket"},
		{"gs://bucket/", "gs://bucket"},
		{"GS://bucket/exports/", "gs://bucket/exports"},
		{"s3://bucket//exports/./daily?region=us-east-1", "s3://bucket/exports/daily?region=us-east-1"},
		{"s3://bucket/x?region=eu-west-1&endpoint=minio", "s3://bucket/x?endpoint=minio&region=eu-west-1"},
		{"mem://artifacts", "mem://artifacts"},
	}
	for _, tt := range tests {
		got, err := CanonicalDestination(tt.in)
		if err != nil {
			t.Errorf("CanonicalDestination(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalDestination(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if IsLocal(got) {
			t.Errorf("%q classified as local", got)
		}
	}
}

func TestCanonicalDestinationRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com/x", "gs:///nobucket", "file://otherhost/srv"} {
		if _, err := CanonicalDestination(in); !errors.Is(err, ErrDestination) {
			t.Errorf("CanonicalDestination(%q) = %v, want ErrDestination", in, err)
		}
	}
}
