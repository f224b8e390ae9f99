package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.dropboxapi.com/2"

// APIError is a non-2xx response from the Dropbox API. Summary carries the
// error_summary string ("duplicate_user/..", "path/not_found/..") which is
// how endpoint-specific failures are told apart.
type APIError struct {
	StatusCode int
	Summary    string
	Tag        string
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("dropbox: http %d: %s", e.StatusCode, e.Summary)
	}
	return fmt.Sprintf("dropbox: http %d", e.StatusCode)
}

// HasTag reports whether the error summary mentions any of the given tags.
func (e *APIError) HasTag(tags ...string) bool {
	for _, t := range tags {
		if strings.Contains(e.Summary, t) {
			return true
		}
	}
	return false
}

// Client issues RPC-style calls against the Dropbox Business API. The zero
// value is not usable; construct with NewClient. Clients are cheap to
// derive: AsAdmin/AsUser/WithPathRoot return shallow copies carrying the
// extra request headers, sharing the underlying HTTP client.
type Client struct {
	baseURL     string
	source      oauth2.TokenSource
	httpClient  *http.Client
	selectAdmin string
	selectUser  string
	pathRoot    string
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *log.Logger
}

func NewClient(source oauth2.TokenSource, logger *log.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		source:     source,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		logger:     logger,
	}
}

// WithBaseURL points the client at a different API host. Tests use this to
// target an httptest server.
func (c *Client) WithBaseURL(u string) *Client {
	clone := *c
	clone.baseURL = strings.TrimRight(u, "/")
	return &clone
}

// AsAdmin returns a client that performs calls as the given team admin
// (Dropbox-API-Select-Admin).
func (c *Client) AsAdmin(teamMemberID string) *Client {
	clone := *c
	clone.selectAdmin = teamMemberID
	clone.selectUser = ""
	return &clone
}

// AsUser returns a client that performs calls as the given team member
// (Dropbox-API-Select-User).
func (c *Client) AsUser(teamMemberID string) *Client {
	clone := *c
	clone.selectUser = teamMemberID
	clone.selectAdmin = ""
	return &clone
}

// WithPathRoot scopes file operations to a namespace (team folder) id.
func (c *Client) WithPathRoot(namespaceID string) *Client {
	clone := *c
	clone.pathRoot = namespaceID
	return &clone
}

// rpc posts params as JSON and decodes the response into out. 429 and 5xx
// responses are retried with doubling delays, honoring Retry-After.
func (c *Client) rpc(ctx context.Context, endpoint string, params, out interface{}) error {
	bodyBytes := []byte("null")
	if params != nil {
		var err error
		bodyBytes, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}

	token, err := c.source.Token()
	if err != nil {
		return fmt.Errorf("dropbox: token source: %w", err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		if c.selectAdmin != "" {
			req.Header.Set("Dropbox-API-Select-Admin", c.selectAdmin)
		}
		if c.selectUser != "" {
			req.Header.Set("Dropbox-API-Select-User", c.selectUser)
		}
		if c.pathRoot != "" {
			root, _ := json.Marshal(map[string]string{".tag": "namespace_id", "namespace_id": c.pathRoot})
			req.Header.Set("Dropbox-API-Path-Root", string(root))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if c.logger != nil {
				c.logger.Printf("Retrying %s after http %d (attempt %d)", endpoint, resp.StatusCode, attempt+1)
			}
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Summary string `json:"error_summary"`
			Err     struct {
				Tag string `json:".tag"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &APIError{
			StatusCode: resp.StatusCode,
			Summary:    errPayload.Summary,
			Tag:        errPayload.Err.Tag,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfterHeader != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfterHeader)); err == nil && seconds >= 0 {
			d := time.Duration(seconds) * time.Second
			if d > c.maxDelay {
				return c.maxDelay
			}
			return d
		}
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
