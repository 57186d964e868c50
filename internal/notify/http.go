package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// httpPoster delivers events to an HTTP endpoint.
type httpPoster struct {
	endpoint    string
	client      *http.Client
	maxAttempts int
	backoff     func() backoff.BackOff
}

func newHTTPPoster(cfg Config) *httpPoster {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &httpPoster{
		endpoint:    cfg.Endpoint,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxAttempts: attempts,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// postWithRetry sends evt, retrying failed attempts with exponential backoff.
// Client errors other than 408 and 429 are not retried.
func (p *httpPoster) postWithRetry(ctx context.Context, evt *Event, onRetry func(error, time.Duration)) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backoff(), uint64(p.maxAttempts-1)), ctx)
	err = backoff.RetryNotify(func() error {
		return p.post(ctx, body)
	}, b, onRetry)
	if err != nil {
		return fmt.Errorf("post to %s: %w", p.endpoint, err)
	}
	return nil
}

// post sends a single POST request.
func (p *httpPoster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
