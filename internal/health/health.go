// Package health probes a running catalog server and its upstreams.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CheckUpstream fetches an upstream URL (panel host or playlist). Returns nil if OK.
func CheckUpstream(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("no upstream URL configured")
	}
	// Some panels don't support HEAD; use GET and close body immediately.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckServer hits healthz, xmltv and an authenticated player_api summary at
// baseURL and returns the first error or nil.
func CheckServer(ctx context.Context, baseURL, username, password string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/xmltv.php"} {
		if err := get(ctx, client, baseURL+path, nil); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	q := url.Values{"username": {username}, "password": {password}}
	var summary struct {
		UserInfo struct {
			Auth int `json:"auth"`
		} `json:"user_info"`
	}
	if err := get(ctx, client, baseURL+"/player_api.php?"+q.Encode(), &summary); err != nil {
		return fmt.Errorf("/player_api.php: %w", err)
	}
	if summary.UserInfo.Auth != 1 {
		return fmt.Errorf("/player_api.php: credentials rejected")
	}
	return nil
}

func get(ctx context.Context, client *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
