package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

// Defaults for backend paths.
const (
	DefaultRefreshPath = "/auth/refresh/"
	ActiveRoleParam    = "active_role"
)

// DefaultExemptPaths never trigger a refresh on 401.
var DefaultExemptPaths = []string{"/auth/refresh/", "/auth/login/", "/auth/register"}

// Options configures a Client.
type Options struct {
	// Transport defaults to an otelhttp-instrumented http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration

	RefreshPath string
	ExemptPaths []string

	// Refresher is shared by every client of the process so concurrent
	// clients of the same browser context join one refresh.
	Refresher *Refresher
	// FlightKey identifies the browser context. Clients without one get a
	// private key and never share refreshes.
	FlightKey string

	ActiveRole string
	Cookies    []*http.Cookie
}

// Client is an API client bound to one browser context.
type Client struct {
	base        *url.URL
	hc          *http.Client
	jar         http.CookieJar
	refresher   *Refresher
	refreshPath string
	exempt      []string
	flightKey   string
	activeRole  string

	mu        sync.Mutex
	issued    []*http.Cookie
	refreshed []*http.Cookie
	taken     int
}

// New creates a client for base, seeding its cookie jar with opts.Cookies.
func New(base *url.URL, opts Options) (*Client, error) {
	if base == nil || base.Host == "" {
		return nil, errors.New("apiclient: base URL is required")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if len(opts.Cookies) > 0 {
		jar.SetCookies(base, opts.Cookies)
	}

	transport := opts.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c := &Client{
		base:        base,
		hc:          &http.Client{Transport: transport, Jar: jar, Timeout: opts.Timeout},
		jar:         jar,
		refresher:   opts.Refresher,
		refreshPath: opts.RefreshPath,
		exempt:      opts.ExemptPaths,
		flightKey:   opts.FlightKey,
		activeRole:  opts.ActiveRole,
	}
	if c.refresher == nil {
		c.refresher = NewRefresher(0, nil)
	}
	if c.refreshPath == "" {
		c.refreshPath = DefaultRefreshPath
	}
	if c.exempt == nil {
		c.exempt = DefaultExemptPaths
	}
	if c.flightKey == "" {
		c.flightKey = "client:" + uuid.NewString()
	}
	return c, nil
}

// BaseURL returns a copy of the API base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// ActiveRole returns the role forwarded with every request.
func (c *Client) ActiveRole() string {
	return c.activeRole
}

// NewRequest builds a request for path relative to the API base and adds
// the active role query parameter when one is set.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	if c.activeRole != "" && q.Get(ActiveRoleParam) == "" {
		q.Set(ActiveRoleParam, c.activeRole)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req. A 401 on a non-exempt request that has not been retried
// triggers one shared session refresh followed by exactly one resend. If
// the refresh fails the error is a *RefreshError and req is not resent.
// A 401 on the resend is returned to the caller as is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.isExempt(req.URL.Path) || isRetried(req.Context()) {
		return resp, nil
	}
	discard(resp)

	if err := c.refresh(req.Context()); err != nil {
		return nil, err
	}

	retry := req.Clone(markRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	// The jar attaches refreshed cookies; drop any header copied from the
	// first attempt.
	retry.Header.Del("Cookie")
	return c.send(retry)
}

// Refresh forces a session refresh through the shared refresher.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

// RefreshedCookies returns the cookies issued by refreshes this client took
// part in.
func (c *Client) RefreshedCookies() []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Cookie(nil), c.refreshed...)
}

// TakeIssuedCookies returns the issued cookies, refreshes included, that
// no earlier call returned, so each one is relayed to the browser once.
func (c *Client) TakeIssuedCookies() []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]*http.Cookie(nil), c.issued[c.taken:]...)
	c.taken = len(c.issued)
	return out
}

// IssuedCookies returns every cookie the backend set through this client,
// refreshes included, in arrival order.
func (c *Client) IssuedCookies() []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Cookie(nil), c.issued...)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.mu.Lock()
		c.issued = append(c.issued, cookies...)
		c.mu.Unlock()
	}
	return resp, nil
}

func (c *Client) refresh(ctx context.Context) error {
	cookies, err := c.refresher.Refresh(ctx, c.flightKey, c.refreshOnce)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}
	c.jar.SetCookies(c.base, cookies)
	c.mu.Lock()
	c.refreshed = append(c.refreshed, cookies...)
	c.issued = append(c.issued, cookies...)
	c.mu.Unlock()
	return nil
}

// refreshOnce performs the refresh round-trip. It bypasses send so cookies
// are recorded once, by refresh, for every participant.
func (c *Client) refreshOnce(ctx context.Context) ([]*http.Cookie, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, c.refreshPath, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	defer discard(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RefreshError{Status: resp.StatusCode}
	}
	return resp.Cookies(), nil
}

func (c *Client) isExempt(path string) bool {
	for _, p := range c.exempt {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(buf))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}
