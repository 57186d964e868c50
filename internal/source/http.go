package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
)

// maxPayloadBytes caps how much of a response body is read.
const maxPayloadBytes = 256 << 20

// httpTransport fetches share links and direct download URLs.
type httpTransport struct {
	client    *http.Client
	userAgent string
	maxBytes  int
}

func newHTTPTransport(userAgent string) *httpTransport {
	// Per-attempt deadlines come from the context, not the client.
	return &httpTransport{
		client:    &http.Client{},
		userAgent: userAgent,
		maxBytes:  maxPayloadBytes,
	}
}

func (t *httpTransport) fetch(ctx context.Context, locator string, creds Credentials) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrInvalidLocator, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	creds.Apply(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("%w: GET returned %s", err, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)+1))
	if err != nil {
		return nil, "", classifyTransportError(err)
	}
	if len(body) > t.maxBytes {
		return nil, "", fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, t.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if looksLikeSignInPage(contentType, body) {
		return nil, "", fmt.Errorf("%w: received an HTML page instead of a document, sign-in is likely required", ErrAuth)
	}
	return body, contentType, nil
}

// classifyStatus maps an HTTP status code to the fetch error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return ErrNetwork
	default:
		// Remaining 4xx responses will not improve on retry.
		return ErrNotFound
	}
}

// classifyTransportError wraps client errors as retryable network failures,
// except for context cancellation which is passed through.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// looksLikeSignInPage detects the HTML login page some document stores serve
// with a 200 status when a share link requires authentication.
func looksLikeSignInPage(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/html" {
		return true
	}
	head := bytes.TrimSpace(body)
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(string(head))
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}
