package source

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/retail-sync/internal/change"
)

func testClient() *Client {
	return NewClient(Config{
		Timeout: 2 * time.Second,
		Retry:   fastPolicy(3),
	})
}

var workbookBytes = bytes.Repeat([]byte("PK\x03\x04 fake workbook "), 100)

func TestClientFetchHTTP(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("download") != "1" {
			t.Errorf("expected normalized download=1 query, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(workbookBytes)
	}))
	defer srv.Close()

	// httptest hosts are not share-link hosts, so pass an already direct URL.
	p, err := testClient().Fetch(context.Background(), srv.URL+"/file.xlsx?download=1", Credentials{Token: "t0k"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if !bytes.Equal(p.Data, workbookBytes) {
		t.Error("payload bytes differ from served bytes")
	}
	if p.Fingerprint != change.Fingerprint(workbookBytes) {
		t.Errorf("fingerprint mismatch: %s", p.Fingerprint)
	}
	if p.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", p.Attempts)
	}
}

func TestClientFetchBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ops" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(workbookBytes)
	}))
	defer srv.Close()

	if _, err := testClient().Fetch(context.Background(), srv.URL, Credentials{Username: "ops", Password: "secret"}); err != nil {
		t.Fatalf("Fetch with valid credentials failed: %v", err)
	}

	_, err := testClient().Fetch(context.Background(), srv.URL, Credentials{Username: "ops", Password: "wrong"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestClientFetchStatusTaxonomy(t *testing.T) {
	tests := []struct {
		status    int
		want      error
		wantCalls int32
	}{
		{http.StatusUnauthorized, ErrAuth, 1},
		{http.StatusForbidden, ErrAuth, 1},
		{http.StatusNotFound, ErrNotFound, 1},
		{http.StatusGone, ErrNotFound, 1},
		{http.StatusServiceUnavailable, ErrNetwork, 3},
		{http.StatusTooManyRequests, ErrNetwork, 3},
	}

	for _, tt := range tests {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tt.status)
		}))

		_, err := testClient().Fetch(context.Background(), srv.URL, Credentials{})
		srv.Close()

		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		if calls.Load() != tt.wantCalls {
			t.Errorf("status %d: expected %d calls, got %d", tt.status, tt.wantCalls, calls.Load())
		}
	}
}

func TestClientFetchRecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(workbookBytes)
	}))
	defer srv.Close()

	p, err := testClient().Fetch(context.Background(), srv.URL, Credentials{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if p.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", p.Attempts)
	}
}

func TestClientFetchTimeoutIsRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Timeout: 20 * time.Millisecond, Retry: fastPolicy(2)})
	_, err := c.Fetch(context.Background(), srv.URL, Credentials{})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientFetchDetectsSignInPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<!DOCTYPE html><html><body>Sign in to your account</body></html>"))
	}))
	defer srv.Close()

	_, err := testClient().Fetch(context.Background(), srv.URL, Credentials{})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth for sign-in page, got %v", err)
	}
}

func TestHTTPTransportRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	tr := newHTTPTransport("retail-sync-test")
	tr.maxBytes = 32
	_, _, err := tr.fetch(context.Background(), srv.URL, Credentials{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("an oversized body should not be retried")
	}

	tr.maxBytes = 64
	if _, _, err := tr.fetch(context.Background(), srv.URL, Credentials{}); err != nil {
		t.Errorf("body at the cap should be accepted: %v", err)
	}
}

func TestClientFetchLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.xlsx")
	if err := os.WriteFile(path, workbookBytes, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := testClient().Fetch(context.Background(), "file://"+filepath.ToSlash(path), Credentials{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(p.Data, workbookBytes) {
		t.Error("local payload mismatch")
	}

	_, err = testClient().Fetch(context.Background(), filepath.Join(dir, "missing.xlsx"), Credentials{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientFetchBlob(t *testing.T) {
	c := testClient()
	c.blob = newBlobTransport(func(ctx context.Context, urlstr string) (*blob.Bucket, error) {
		if urlstr != "mem://exports" {
			t.Errorf("unexpected bucket url %q", urlstr)
		}
		b := memblob.OpenBucket(nil)
		if err := b.WriteAll(ctx, "daily/sales.xlsx", workbookBytes, nil); err != nil {
			return nil, err
		}
		return b, nil
	})

	p, err := c.Fetch(context.Background(), "mem://exports/daily/sales.xlsx", Credentials{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(p.Data, workbookBytes) {
		t.Error("blob payload mismatch")
	}

	_, err = c.Fetch(context.Background(), "mem://exports/daily/missing.xlsx", Credentials{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
