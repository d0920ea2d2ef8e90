package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusekai/edusekai/internal/session"
)

// fakeBackend mimics the REST API: protected routes accept only the
// "fresh" access token, and the refresh route hands it out.
type fakeBackend struct {
	srv *httptest.Server

	refreshCalls   atomic.Int32
	protectedCalls atomic.Int32
	unauthorized   atomic.Int32

	// refresh waits until this many 401s were served, then settles.
	waitFor       int32
	settle        time.Duration
	refreshStatus int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{refreshStatus: http.StatusOK}

	authed := func(r *http.Request) bool {
		c, err := r.Cookie("access_token")
		return err == nil && c.Value == "fresh"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/students/", func(w http.ResponseWriter, r *http.Request) {
		b.protectedCalls.Add(1)
		if !authed(r) {
			b.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/api/always-401/", func(w http.ResponseWriter, r *http.Request) {
		b.protectedCalls.Add(1)
		b.unauthorized.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for b.unauthorized.Load() < b.waitFor && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(b.settle)
		if b.refreshStatus != http.StatusOK {
			w.WriteHeader(b.refreshStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/auth/me/", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "u-1",
			"email":       "head@greenvale.edu",
			"is_active":   true,
			"roles":       []string{"owner", "teacher"},
			"active_role": r.URL.Query().Get("active_role"),
			"permissions": []string{"*"},
		})
	})
	mux.HandleFunc("/api/auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/organizations/check-domain/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": r.URL.Query().Get("domain") == "greenvale"})
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) base(t *testing.T) *url.URL {
	u, err := url.Parse(b.srv.URL + "/api")
	require.NoError(t, err)
	return u
}

func (b *fakeBackend) client(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.Cookies == nil {
		opts.Cookies = []*http.Cookie{
			{Name: "access_token", Value: "stale"},
			{Name: "refresh_token", Value: "r-1"},
		}
	}
	c, err := New(b.base(t), opts)
	require.NoError(t, err)
	return c
}

func get(t *testing.T, c *Client, path string) (*http.Response, error) {
	req, err := c.NewRequest(context.Background(), http.MethodGet, path, nil, nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	b := newFakeBackend(t)
	b.waitFor = n
	b.settle = 100 * time.Millisecond

	refresher := NewRefresher(5*time.Second, nil)
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = b.client(t, Options{Refresher: refresher, FlightKey: FlightKey("r-1")})
	}

	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := get(t, clients[i], "/students/")
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = resp.StatusCode
			discard(resp)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
		cookies := clients[i].RefreshedCookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "fresh", cookies[0].Value)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(2*n), b.protectedCalls.Load(), "each request is resent exactly once")
}

func TestClient_SharedClientConcurrentRequests(t *testing.T) {
	const n = 4
	b := newFakeBackend(t)
	b.waitFor = n
	b.settle = 100 * time.Millisecond

	c := b.client(t, Options{})

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, c, "/students/")
			if err == nil && resp.StatusCode == http.StatusOK {
				ok.Add(1)
			}
			if resp != nil {
				discard(resp)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), ok.Load())
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestClient_RefreshFailureRejectsAllWaiters(t *testing.T) {
	const n = 5
	b := newFakeBackend(t)
	b.waitFor = n
	b.settle = 100 * time.Millisecond
	b.refreshStatus = http.StatusUnauthorized

	refresher := NewRefresher(5*time.Second, nil)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		c := b.client(t, Options{Refresher: refresher, FlightKey: "browser-1"})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := get(t, c, "/students/")
			if resp != nil {
				discard(resp)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrSessionEnded)
		var re *RefreshError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, http.StatusUnauthorized, re.Status)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(n), b.protectedCalls.Load(), "no request is resent after a failed refresh")
}

func TestClient_RetriedRequestSurfaces401(t *testing.T) {
	b := newFakeBackend(t)
	b.waitFor = 1
	c := b.client(t, Options{})

	resp, err := get(t, c, "/always-401/")
	require.NoError(t, err)
	defer discard(resp)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(2), b.protectedCalls.Load())
}

func TestClient_ExemptPathsDoNotRefresh(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/auth/login/", nil, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer discard(resp)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, b.refreshCalls.Load())
}

func TestClient_SequentialRefreshesAreIndependent(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, int32(2), b.refreshCalls.Load())
	assert.Len(t, c.RefreshedCookies(), 2)
}

func TestClient_Me(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{
		ActiveRole: "teacher",
		Cookies:    []*http.Cookie{{Name: "access_token", Value: "fresh"}},
	})

	s, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, "teacher", s.ActiveRole)
	assert.Equal(t, []string{"owner", "teacher"}, s.Roles)
	assert.Zero(t, b.refreshCalls.Load())
}

func TestClient_MeWithoutSession(t *testing.T) {
	b := newFakeBackend(t)
	b.refreshStatus = http.StatusUnauthorized
	c := b.client(t, Options{Cookies: []*http.Cookie{}})

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestClient_CheckDomain(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	ok, err := c.CheckDomain(context.Background(), "greenvale")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckDomain(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_Logout(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	require.NoError(t, c.Logout(context.Background()))
	issued := c.IssuedCookies()
	require.Len(t, issued, 1)
	assert.Equal(t, "access_token", issued[0].Name)
	assert.Less(t, issued[0].MaxAge, 0)
}

func TestClient_TakeIssuedCookies(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	resp, err := get(t, c, "/students/")
	require.NoError(t, err)
	discard(resp)

	taken := c.TakeIssuedCookies()
	require.Len(t, taken, 1)
	assert.Equal(t, "fresh", taken[0].Value)
	assert.Empty(t, c.TakeIssuedCookies())

	require.NoError(t, c.Logout(context.Background()))
	taken = c.TakeIssuedCookies()
	require.Len(t, taken, 1)
	assert.Less(t, taken[0].MaxAge, 0)
	assert.Len(t, c.IssuedCookies(), 2)
}

func TestClient_WithoutFlightKeyRefreshesAlone(t *testing.T) {
	b := newFakeBackend(t)
	b.waitFor = 2
	b.settle = 50 * time.Millisecond
	refresher := NewRefresher(5*time.Second, nil)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := b.client(t, Options{Refresher: refresher})
			resp, err := get(t, c, "/students/")
			if assert.NoError(t, err) {
				discard(resp)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, b.refreshCalls.Load())
}

func TestClient_NewRequest(t *testing.T) {
	base, _ := url.Parse("http://localhost:8000/api")
	c, err := New(base, Options{ActiveRole: "staff"})
	require.NoError(t, err)

	req, err := c.NewRequest(context.Background(), http.MethodGet, "/organizations/check-domain/", url.Values{"domain": {"greenvale"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/organizations/check-domain/", req.URL.Path)
	assert.Equal(t, "staff", req.URL.Query().Get("active_role"))
	assert.Equal(t, "greenvale", req.URL.Query().Get("domain"))

	_, err = New(&url.URL{}, Options{})
	assert.Error(t, err)
}

func TestResolver_BaseURL(t *testing.T) {
	r := Resolver{Scheme: "http", APIRoot: "localhost:8000", PathPrefix: "/api", RootDomain: "localhost"}

	assert.Equal(t, "http://greenvale.localhost:8000/api", r.BaseURL("greenvale.localhost:3555").String())
	assert.Equal(t, "http://localhost:8000/api", r.BaseURL("localhost:3000").String())
	assert.Equal(t, "http://localhost:8000/api", r.BaseURL("example.com").String())
	assert.Equal(t, "greenvale", r.TenantLabel("greenvale.localhost"))
	assert.Empty(t, r.TenantLabel("localhost"))
}

func TestClient_Get(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(t, Options{})

	body, err := c.Get(context.Background(), "/students/", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 1, b.refreshCalls.Load())

	_, err = c.Get(context.Background(), "/always-401/", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}
