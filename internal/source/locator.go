package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidLocator is returned when a locator cannot be parsed.
var ErrInvalidLocator = errors.New("invalid source locator")

// NormalizeLocator rewrites share-link URLs into their direct-download form.
// Direct URLs, file paths and object-store URLs are returned unchanged, and
// normalizing an already normalized locator is a no-op.
func NormalizeLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty locator", ErrInvalidLocator)
	}

	switch scheme(locator) {
	case "http", "https":
	default:
		return locator, nil
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidLocator, Redact(locator))
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case isSharePointHost(host):
		return normalizeSharePoint(u), nil
	case host == "dropbox.com" || host == "www.dropbox.com":
		return normalizeDropbox(u), nil
	case host == "drive.google.com":
		return normalizeGoogleDrive(u), nil
	default:
		return locator, nil
	}
}

func isSharePointHost(host string) bool {
	return strings.HasSuffix(host, ".sharepoint.com") ||
		host == "1drv.ms" ||
		host == "onedrive.live.com"
}

// normalizeSharePoint inserts download=1 ahead of the share token.
// Links that already request a download, or carry no share marker, are left alone.
func normalizeSharePoint(u *url.URL) string {
	q := u.Query()
	if q.Has("download") {
		return u.String()
	}
	isShareLink := q.Has("e") || strings.Contains(u.Path, "/:") || u.Hostname() == "1drv.ms"
	if !isShareLink {
		return u.String()
	}
	if u.RawQuery == "" {
		u.RawQuery = "download=1"
	} else {
		u.RawQuery = "download=1&" + u.RawQuery
	}
	return u.String()
}

// normalizeDropbox forces dl=1 unless the link already serves raw content.
func normalizeDropbox(u *url.URL) string {
	q := u.Query()
	if q.Get("dl") == "1" || q.Get("raw") == "1" {
		return u.String()
	}
	q.Set("dl", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// normalizeGoogleDrive maps /file/d/<id>/view and open?id=<id> to the uc export endpoint.
func normalizeGoogleDrive(u *url.URL) string {
	if u.Path == "/uc" {
		return u.String()
	}

	var id string
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "file" && parts[i+1] == "d" {
			id = parts[i+2]
			break
		}
	}
	if id == "" && u.Path == "/open" {
		id = u.Query().Get("id")
	}
	if id == "" {
		return u.String()
	}

	out := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     "/uc",
		RawQuery: "export=download&id=" + url.QueryEscape(id),
	}
	return out.String()
}
