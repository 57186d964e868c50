package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// localTransport reads payloads from the local filesystem.
type localTransport struct{}

func (localTransport) fetch(_ context.Context, locator string, _ Credentials) ([]byte, string, error) {
	path, err := localPath(locator)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
		case errors.Is(err, fs.ErrPermission):
			return nil, "", fmt.Errorf("%w: %s: %v", ErrAuth, path, err)
		default:
			return nil, "", fmt.Errorf("%w: read %s: %v", ErrNetwork, path, err)
		}
	}
	return data, contentTypeFor(path), nil
}

// localPath converts a file:// URL or bare path into a filesystem path.
func localPath(locator string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(locator), "file://") {
		return filepath.Clean(locator), nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	return filepath.FromSlash(u.Path), nil
}

// contentTypeFor guesses a content type from the file extension.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	case ".zst":
		return "application/zstd"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
