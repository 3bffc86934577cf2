// Package client is a typed HTTP client for the GoWarden API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// HTTPError is returned for responses with a status of 400 or above.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
	Method     string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error %d %s from %s %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP error %d %s from %s %s", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Client talks to one GoWarden server with one bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a client. baseURL is the server root, e.g. "http://localhost:8080".
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	u := c.baseURL + "/api" + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, u, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request for %s: %w", method, u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request to %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		herr := &HTTPError{StatusCode: resp.StatusCode, URL: u, Method: method}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(data) > 0 {
			var e struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(data, &e) == nil && e.Error != "" {
				herr.Message = e.Error
			} else if len(data) < 200 {
				herr.Message = strings.TrimSpace(string(data))
			}
		}
		return herr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode %s response from %s: %w", method, u, err)
		}
	}
	return nil
}

// ListOptions are the common list query parameters.
type ListOptions struct {
	Offset int
	Limit  int
	Filter string
	Search string
}

func (o ListOptions) encode() string {
	v := url.Values{}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Filter != "" {
		v.Set("filter", o.Filter)
	}
	if o.Search != "" {
		v.Set("search", o.Search)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Health is the unauthenticated liveness response.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.doRequest(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) Statistics(ctx context.Context) (model.Statistics, error) {
	var resp struct {
		Data model.Statistics `json:"data"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/statistics", nil, &resp)
	return resp.Data, err
}

// ---- Bans ----

func (c *Client) ListBans(ctx context.Context, opts ListOptions) ([]model.Ban, int, error) {
	var resp struct {
		Bans  []model.Ban `json:"bans"`
		Total int         `json:"total"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/bans"+opts.encode(), nil, &resp)
	return resp.Bans, resp.Total, err
}

// CreateBan issues a manual ban. durationHours of model.PermanentHours is permanent.
func (c *Client) CreateBan(ctx context.Context, identity model.Identity, reason string, durationHours int) (model.Ban, error) {
	req := struct {
		License  string `json:"license,omitempty"`
		Steam    string `json:"steam,omitempty"`
		Discord  string `json:"discord,omitempty"`
		Reason   string `json:"reason"`
		Duration int    `json:"duration"`
	}{identity.License, identity.Steam, identity.Discord, reason, durationHours}
	var resp struct {
		Ban model.Ban `json:"ban"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/bans", req, &resp)
	return resp.Ban, err
}

func (c *Client) RevokeBan(ctx context.Context, id int64) (model.Ban, error) {
	var resp struct {
		Ban model.Ban `json:"ban"`
	}
	err := c.doRequest(ctx, http.MethodDelete, "/bans/"+strconv.FormatInt(id, 10), nil, &resp)
	return resp.Ban, err
}

// CheckResult lists the bans currently enforced against an identity. Remote
// is set when only a ban mirrored by another server matched.
type CheckResult struct {
	Banned bool        `json:"banned"`
	Remote bool        `json:"remote"`
	Bans   []model.Ban `json:"bans"`
}

func (c *Client) CheckBan(ctx context.Context, identity model.Identity) (CheckResult, error) {
	v := url.Values{}
	if identity.License != "" {
		v.Set("license", identity.License)
	}
	if identity.Steam != "" {
		v.Set("steam", identity.Steam)
	}
	if identity.Discord != "" {
		v.Set("discord", identity.Discord)
	}
	var res CheckResult
	err := c.doRequest(ctx, http.MethodGet, "/bans/check?"+v.Encode(), nil, &res)
	return res, err
}

// ---- Violations ----

func (c *Client) ListViolations(ctx context.Context, opts ListOptions) ([]model.Violation, int, error) {
	var resp struct {
		Violations []model.Violation `json:"violations"`
		Total      int               `json:"total"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/violations"+opts.encode(), nil, &resp)
	return resp.Violations, resp.Total, err
}

// ReportResult is the outcome of a violation report. Accepted is false when
// the check family is switched off.
type ReportResult struct {
	Accepted  bool             `json:"accepted"`
	Message   string           `json:"message,omitempty"`
	Violation *model.Violation `json:"violation,omitempty"`
	AutoBan   *model.Ban       `json:"auto_ban,omitempty"`
}

func (c *Client) ReportViolation(ctx context.Context, report model.ViolationReport) (ReportResult, error) {
	var res ReportResult
	err := c.doRequest(ctx, http.MethodPost, "/violations", report, &res)
	return res, err
}

// ClearViolations prunes violations older than olderThanDays (server default when 0).
func (c *Client) ClearViolations(ctx context.Context, olderThanDays int) (int, error) {
	path := "/violations/clear"
	if olderThanDays > 0 {
		path += "?older_than_days=" + strconv.Itoa(olderThanDays)
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	err := c.doRequest(ctx, http.MethodDelete, path, nil, &resp)
	return resp.Removed, err
}

// ---- Players, activity, settings ----

func (c *Client) ListPlayers(ctx context.Context, search string) ([]model.Player, error) {
	path := "/players"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var resp struct {
		Players []model.Player `json:"players"`
	}
	err := c.doRequest(ctx, http.MethodGet, path, nil, &resp)
	return resp.Players, err
}

func (c *Client) Activity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	path := "/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Activity []model.ActivityEvent `json:"activity"`
	}
	err := c.doRequest(ctx, http.MethodGet, path, nil, &resp)
	return resp.Activity, err
}

func (c *Client) Settings(ctx context.Context) (model.Settings, error) {
	var resp struct {
		Settings model.Settings `json:"settings"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/settings", nil, &resp)
	return resp.Settings, err
}

// UpdateSettings sends a partial settings object. Keys left out keep their
// current value on the server.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (model.Settings, error) {
	var resp struct {
		Settings model.Settings `json:"settings"`
	}
	err := c.doRequest(ctx, http.MethodPut, "/settings", patch, &resp)
	return resp.Settings, err
}
