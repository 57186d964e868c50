// Package source retrieves the raw tabular payload from a remote locator.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/withObsrvr/retail-sync/internal/change"
	"github.com/withObsrvr/retail-sync/internal/metrics"
)

var (
	// ErrAuth is returned when credentials are missing, wrong or expired. Never retried.
	ErrAuth = errors.New("source authentication failed")

	// ErrNotFound is returned when the source document is missing or has moved. Never retried.
	ErrNotFound = errors.New("source not found")

	// ErrNetwork is returned for timeouts and transient transport failures. Retried.
	ErrNetwork = errors.New("source network failure")

	// ErrTooLarge is returned when the source document exceeds the size cap. Never retried.
	ErrTooLarge = errors.New("source payload too large")

	// ErrCorruptPayload is returned when a compressed payload cannot be decoded.
	ErrCorruptPayload = errors.New("corrupt source payload")
)

// IsRetryable reports whether err is worth another fetch attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Payload is the raw blob retrieved from the source. It is never modified after fetch.
type Payload struct {
	Locator     string
	Data        []byte
	Fingerprint string
	ContentType string
	FetchedAt   time.Time
	Attempts    int
}

// Size returns the payload length in bytes.
func (p *Payload) Size() int {
	return len(p.Data)
}

// Fetcher retrieves a payload from a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string, creds Credentials) (*Payload, error)
}

// Config configures the fetch client.
type Config struct {
	Timeout         time.Duration // per attempt
	Retry           RetryPolicy
	UserAgent       string
	MinPayloadBytes int // payloads smaller than this are logged as suspicious
}

// transport performs a single fetch attempt for one family of locators.
type transport interface {
	fetch(ctx context.Context, locator string, creds Credentials) (data []byte, contentType string, err error)
}

// Client routes a locator to the matching transport and applies the retry policy.
type Client struct {
	cfg   Config
	http  transport
	local transport
	blob  transport
	log   *slog.Logger
	now   func() time.Time
}

// NewClient creates a fetch client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "retail-sync"
	}
	if cfg.MinPayloadBytes <= 0 {
		cfg.MinPayloadBytes = 1000
	}
	return &Client{
		cfg:   cfg,
		http:  newHTTPTransport(cfg.UserAgent),
		local: localTransport{},
		blob:  newBlobTransport(nil),
		log:   slog.With("component", "source"),
		now:   time.Now,
	}
}

// Fetch normalizes the locator and retrieves its bytes, retrying transient failures.
func (c *Client) Fetch(ctx context.Context, locator string, creds Credentials) (*Payload, error) {
	normalized, err := NormalizeLocator(locator)
	if err != nil {
		return nil, err
	}

	t, kind := c.transportFor(normalized)
	log := c.log.With("locator", Redact(normalized), "transport", kind)

	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("fetch attempt failed, retrying", "attempt", attempt, "error", err, "wait", wait.String())
		if m := metrics.Get(); m != nil {
			m.IncFetchRetries(kind)
		}
	}

	var (
		data        []byte
		contentType string
		attempts    int
	)
	start := c.now()
	err = policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		d, ct, err := t.fetch(attemptCtx, normalized, creds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		data, contentType = d, ct
		return nil
	})
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncFetchErrors(kind, errorKind(err))
		}
		if IsRetryable(err) {
			return nil, fmt.Errorf("fetch %s after %d attempts: %w", Redact(normalized), attempts, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", Redact(normalized), err)
	}

	if len(data) < c.cfg.MinPayloadBytes {
		log.Warn("payload is unusually small, it may be an error page", "bytes", len(data))
	}
	log.Info("fetched source", "bytes", len(data), "attempts", attempts, "duration", c.now().Sub(start).String())
	if m := metrics.Get(); m != nil {
		m.ObserveFetchDuration(kind, c.now().Sub(start).Seconds())
	}

	return &Payload{
		Locator:     normalized,
		Data:        data,
		Fingerprint: change.Fingerprint(data),
		ContentType: contentType,
		FetchedAt:   c.now().UTC(),
		Attempts:    attempts,
	}, nil
}

// transportFor picks the transport for a normalized locator.
func (c *Client) transportFor(locator string) (transport, string) {
	switch scheme(locator) {
	case "http", "https":
		return c.http, "http"
	case "", "file":
		return c.local, "local"
	default:
		return c.blob, "blob"
	}
}

// scheme returns the lower-cased URL scheme, or "" for bare paths.
func scheme(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(locator[:i])
}

// Redact strips query strings and user info so share tokens never reach logs.
func Redact(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return locator
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "REDACTED"
	}
	return u.String()
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "other"
	}
}
