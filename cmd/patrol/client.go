package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goodtune/patrol/internal/admin/api"
	"github.com/spf13/cobra"
)

var (
	clientAddr    string
	clientToken   string
	clientTimeout time.Duration
)

// addClientFlags registers the flags shared by every admin API command.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientAddr, "addr", "http://127.0.0.1:8088", "Admin API base URL")
	cmd.Flags().StringVar(&clientToken, "token", os.Getenv("PATROL_ADMIN_TOKEN"), "Admin API bearer token")
	cmd.Flags().DurationVar(&clientTimeout, "timeout", 10*time.Second, "Request timeout")
}

// apiClient is a small client for the admin API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx admin API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(clientAddr, "/"),
		token:   clientToken,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func guildPath(guildID string, parts ...string) string {
	elems := append([]string{"/api/guilds", url.PathEscape(guildID)}, parts...)
	return strings.Join(elems, "/")
}

func userPath(guildID, userID string, parts ...string) string {
	return guildPath(guildID, append([]string{"users", url.PathEscape(userID)}, parts...)...)
}

// parseMonth parses YYYY-MM.
func parseMonth(value string) (int, int, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q (want YYYY-MM)", value)
	}
	return t.Year(), int(t.Month()), nil
}

// parseDelta accepts a Go duration ("-1h30m") or a plain millisecond count.
func parseDelta(value string) (int64, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return d.Milliseconds(), nil
	}
	var ms int64
	if _, err := fmt.Sscan(value, &ms); err != nil {
		return 0, fmt.Errorf("invalid delta %q (want a duration like -1h30m or milliseconds)", value)
	}
	return ms, nil
}

// formatMs renders milliseconds as a duration rounded to the second.
func formatMs(ms uint64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
