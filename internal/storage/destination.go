package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrDestination is returned for destinations that name no supported store.
var ErrDestination = errors.New("invalid destination")

// CanonicalDestination returns the one spelling used for a destination in
// lock names, state files, catalog rows and events. Local paths and file://
// URLs become absolute, cleaned paths with symlinks resolved when the
// directory exists; object store URLs become scheme://bucket[/prefix] with
// sorted query parameters.
func CanonicalDestination(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", fmt.Errorf("%w: destination is required", ErrDestination)
	}

	u, err := url.Parse(destination)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare path, including Windows drive letters.
		return canonicalPath(destination)
	}
	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: remote file host %q", ErrDestination, u.Host)
		}
		return canonicalPath(filepath.FromSlash(u.Path))
	case "gs", "s3", "mem":
		if u.Host == "" {
			return "", fmt.Errorf("%w: %s URL without a bucket", ErrDestination, u.Scheme)
		}
		out := u.Scheme + "://" + u.Host
		if prefix := strings.Trim(path.Clean("/"+u.Path), "/"); prefix != "" {
			out += "/" + prefix
		}
		if q := u.Query(); len(q) > 0 {
			out += "?" + q.Encode()
		}
		return out, nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrDestination, u.Scheme)
	}
}

func canonicalPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrDestination)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %w", ErrDestination, p, err)
	}
	return resolveExisting(abs), nil
}

// resolveExisting resolves symlinks in the longest existing prefix of abs,
// so the result is the same before and after the directory is created.
func resolveExisting(abs string) string {
	rest := ""
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// IsLocal reports whether a canonical destination is a filesystem path.
func IsLocal(canonical string) bool {
	return !strings.Contains(canonical, "://")
}

// Open creates a store for destination. Local paths and file:// URLs use
// the filesystem backend; gs://, s3:// and mem:// use object storage.
func Open(ctx context.Context, destination string) (AtomicStore, error) {
	canonical, err := CanonicalDestination(destination)
	if err != nil {
		return nil, err
	}
	if IsLocal(canonical) {
		return NewLocalStore(canonical)
	}
	return OpenBlobStore(ctx, canonical)
}
