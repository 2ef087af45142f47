package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// UserAgent is sent on every upstream request.
	UserAgent = "iptv-catalog/1.0"

	// MaxBodyBytes caps how much of an upstream body is read into memory.
	MaxBodyBytes = 256 << 20
)

var defaultClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	},
}

// Default returns the shared HTTP client used by the source adapters and the logo provider.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing a clone of the default transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{Timeout: timeout, Transport: t.Clone()}
}

// StatusError is returned by Get when the upstream answers with a non-200 status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.URL, e.Code)
}

// Get fetches rawURL through the per-host limiter and DoWithRetry and returns
// the body of a 200 response. Errors carry the redacted URL.
func Get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	release, err := GlobalHostSem.Acquire(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := DoWithRetry(ctx, client, req, DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: Redact(rawURL), Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
}

// GetJSON is Get followed by json.Unmarshal into v.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, v any) error {
	body, err := Get(ctx, client, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s: decode: %w", Redact(rawURL), err)
	}
	return nil
}
