package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/edusekai/edusekai/internal/session"
)

// Backend paths relative to the API base.
const (
	PathMe          = "/auth/me/"
	PathLogout      = "/auth/logout/"
	PathCheckDomain = "/organizations/check-domain/"
	PathPermissions = "/roles/permissions/"
)

const maxBodySize = 4 << 20

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

// Unwrap maps 401 to session.ErrNotAuthenticated.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return session.ErrNotAuthenticated
	}
	return nil
}

// Me loads the session of the current browser context.
func (c *Client) Me(ctx context.Context) (*session.Session, error) {
	var s session.Session
	if err := c.getJSON(ctx, PathMe, nil, &s); err != nil {
		return nil, err
	}
	if s.ActiveRole == "" {
		s.ActiveRole = c.activeRole
	}
	return &s, nil
}

// CheckDomain reports whether label belongs to a provisioned, active tenant.
func (c *Client) CheckDomain(ctx context.Context, label string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, PathCheckDomain, url.Values{"domain": {label}}, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// Logout ends the backend session. Cookies cleared by the backend are
// available from IssuedCookies.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.NewRequest(ctx, http.MethodPost, PathLogout, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer discard(resp)
	return checkStatus(resp)
}

// Get fetches path and returns the body of a successful response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer discard(resp)

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer discard(resp)

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
