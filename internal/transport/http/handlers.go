// Copyright 2026 The EDU Sekai Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http is the gateway's HTTP surface: the marketing router, the
// tenant shell and the middleware that loads sessions and gates pages.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/audit"
	"github.com/edusekai/edusekai/internal/authz"
	"github.com/edusekai/edusekai/internal/hostrouter"
	"github.com/edusekai/edusekai/internal/observability/logger"
	"github.com/edusekai/edusekai/internal/querycache"
	"github.com/edusekai/edusekai/internal/session"
)

// Router modes.
const (
	ModeMarketing = "marketing"
	ModeTenant    = "tenant"
	ModeAll       = "all"
)

// TenantResolver checks that a tenant label exists before tenant content is served.
type TenantResolver interface {
	Resolve(ctx context.Context, label, host string) error
}

// SessionConfig holds browser cookie configuration
type SessionConfig struct {
	AccessCookie     string
	RefreshCookie    string
	ActiveRoleCookie string
	CookieDomain     string
	CookieSecure     bool
	LoginPath        string
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Router *hostrouter.Router
	// BaseURL maps a request host to its API base URL.
	BaseURL func(host string) *url.URL
	// ClientOptions is the template for per-request API clients. Cookies,
	// ActiveRole and FlightKey are filled in per request.
	ClientOptions apiclient.Options
	Tenants       TenantResolver
	Menu          *authz.MenuPolicy
	Queries       *querycache.Cache
	Audit         audit.Logger
	Pages         http.Handler
	Session       SessionConfig
	// TracerProvider instruments incoming requests; Tracer, when nil, is
	// taken from it.
	TracerProvider trace.TracerProvider
	Tracer         trace.Tracer
	Timeout        time.Duration
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	router     *hostrouter.Router
	baseURL    func(host string) *url.URL
	clientOpts apiclient.Options
	tenants    TenantResolver
	menu       *authz.MenuPolicy
	queries    *querycache.Cache
	audit      audit.Logger
	pages      http.Handler
	session    SessionConfig
	tracer     trace.Tracer
	provider   trace.TracerProvider
	timeout    time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	h := &Handler{
		router:     d.Router,
		baseURL:    d.BaseURL,
		clientOpts: d.ClientOptions,
		tenants:    d.Tenants,
		menu:       d.Menu,
		queries:    d.Queries,
		audit:      d.Audit,
		pages:      d.Pages,
		session:    d.Session,
		tracer:     d.Tracer,
		provider:   d.TracerProvider,
		timeout:    d.Timeout,
	}
	if h.audit == nil {
		h.audit = audit.Nop{}
	}
	if h.pages == nil {
		h.pages = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "no page origin configured")
		})
	}
	if h.provider == nil {
		h.provider = noop.NewTracerProvider()
	}
	if h.tracer == nil {
		h.tracer = h.provider.Tracer("github.com/edusekai/edusekai/internal/transport/http")
	}
	if h.timeout <= 0 {
		h.timeout = 60 * time.Second
	}
	if h.session.ActiveRoleCookie == "" {
		h.session.ActiveRoleCookie = apiclient.ActiveRoleParam
	}
	if h.session.LoginPath == "" {
		h.session.LoginPath = "/login"
	}
	return h
}

// NewRouter creates the router for mode (marketing, tenant or all).
func NewRouter(h *Handler, rateLimiter *RateLimiter, mode string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithTracerProvider(h.provider),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	// Health check
	r.Get("/health", h.HealthCheck)

	switch mode {
	case ModeMarketing:
		r.Handle("/*", h.marketing())
	case ModeTenant:
		r.Handle("/*", h.tenantShell())
	default:
		marketing, shell := h.marketing(), h.tenantShell()
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if h.router.Classify(req.Host).IsTenant() {
				shell.ServeHTTP(w, req)
				return
			}
			marketing.ServeHTTP(w, req)
		}))
	}

	return r
}

// marketing serves root-domain traffic. Tenant hosts are rewritten into the
// tenant namespace (or redirected) before reaching the page origin.
func (h *Handler) marketing() http.Handler {
	return h.router.Middleware(h.pages)
}

// tenantShell serves the tenant application.
func (h *Handler) tenantShell() http.Handler {
	r := chi.NewRouter()
	r.Use(h.router.RequireTenantHost)
	r.Use(h.SubdomainGuard)

	r.Route("/session", func(r chi.Router) {
		r.Use(h.SessionMiddleware)
		r.Get("/", h.SessionInfo)
		r.Get("/permissions", h.Permissions)
		r.Post("/active-role", h.SwitchRole)
		r.Post("/logout", h.Logout)
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(h.SessionMiddleware)
		r.With(h.RequirePermission(authz.PermViewRole)).Handle("/institution/roles", h.pages)
		r.With(h.RequirePermission(authz.PermViewRole)).Handle("/institution/roles/*", h.pages)
		r.With(h.RequirePermission(authz.PermViewInstitutionProfile)).Handle("/institution/settings", h.pages)
		r.With(h.RequirePermission(authz.PermViewInstitutionProfile)).Handle("/institution/settings/*", h.pages)
		r.Handle("/", h.pages)
		r.Handle("/*", h.pages)
	})

	r.Handle("/*", h.pages)
	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "edusekai-gateway",
	})
}

// sessionResponse is the payload of GET /session.
type sessionResponse struct {
	User    *session.Session `json:"user"`
	Access  authz.Summary    `json:"access"`
	Menu    []authz.MenuItem `json:"menu"`
	Pending bool             `json:"pending"`
}

// SessionInfo returns the loaded session, the gate summary and the menu.
func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	gate := GetGate(r.Context())
	resp := sessionResponse{
		User:    GetSession(r.Context()),
		Access:  gate.Summarize(authz.RolePermissions...),
		Menu:    []authz.MenuItem{},
		Pending: !gate.Loaded(),
	}

	if gate.Loaded() && h.menu != nil {
		items, err := h.menu.Menu(r.Context(), gate)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to evaluate menu policy",
				logger.Component("transport"),
				logger.Error(err),
			)
		} else {
			resp.Menu = items
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// SwitchRoleRequest selects a new active role.
type SwitchRoleRequest struct {
	Role string `json:"role"`
}

// SwitchRole changes the active role of the browser context. Server-side
// roles are unchanged; cached queries of the previous role are evicted.
func (h *Handler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	sess := GetSession(r.Context())
	if sess == nil {
		respondError(w, http.StatusServiceUnavailable, "session not loaded")
		return
	}

	var req SwitchRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	previous := sess.EffectiveRole()
	next, err := sess.WithActiveRole(req.Role)
	if err != nil {
		if errors.Is(err, session.ErrRoleNotHeld) {
			respondError(w, http.StatusForbidden, "role not held")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	evicted := 0
	if h.queries != nil && previous != req.Role {
		evicted = h.queries.InvalidateScope(querycache.Scope{UserID: sess.UserID, ActiveRole: previous})
	}

	http.SetCookie(w, h.activeRoleCookie(req.Role))

	h.audit.Log(r.Context(), audit.Event{
		Type:      audit.TypeRoleSwitched,
		Tenant:    hostrouter.TenantLabel(r.Context()),
		Host:      r.Host,
		ActorID:   sess.UserID,
		Resource:  "active_role",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"from": previous, "to": req.Role, "evicted": evicted},
	})

	gate := authz.NewGate(next)
	respondJSON(w, http.StatusOK, map[string]any{
		"active_role": next.ActiveRole,
		"access":      gate.Summarize(authz.RolePermissions...),
		"reload":      true,
	})
}

// Logout ends the backend session and clears local state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	client := GetClient(r.Context())
	sess := GetSession(r.Context())
	if client == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	err := client.Logout(r.Context())
	h.forwardCookies(w, client.TakeIssuedCookies())
	if err != nil && !errors.Is(err, session.ErrSessionEnded) && !errors.Is(err, session.ErrNotAuthenticated) {
		slog.ErrorContext(r.Context(), "backend logout failed",
			logger.Component("transport"),
			logger.Error(err),
		)
		respondError(w, http.StatusBadGateway, "logout failed")
		return
	}

	h.clearActiveRole(w)
	if sess != nil {
		if h.queries != nil {
			h.queries.InvalidateUser(sess.UserID)
		}
		h.audit.Log(r.Context(), audit.Event{
			Type:      audit.TypeLogout,
			Tenant:    hostrouter.TenantLabel(r.Context()),
			Host:      r.Host,
			ActorID:   sess.UserID,
			Resource:  "session",
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":  "logged out successfully",
		"redirect": h.session.LoginPath,
	})
}

// Permissions returns the backend permission catalogue, cached per
// (user, active role).
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	client := GetClient(r.Context())
	sess := GetSession(r.Context())
	if client == nil || sess == nil {
		respondError(w, http.StatusServiceUnavailable, "session not loaded")
		return
	}

	scope := querycache.Scope{UserID: sess.UserID, ActiveRole: sess.EffectiveRole()}
	key := apiclient.PathPermissions

	if h.queries != nil {
		if body, ok := h.queries.Get(scope, key); ok {
			w.Header().Set("X-Cache", "hit")
			respondRaw(w, http.StatusOK, body)
			return
		}
	}

	body, err := client.Get(r.Context(), apiclient.PathPermissions, nil)
	h.forwardCookies(w, client.TakeIssuedCookies())
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
			respondError(w, http.StatusForbidden, "access denied")
			return
		}
		slog.ErrorContext(r.Context(), "failed to load permissions",
			logger.Component("transport"),
			logger.UserID(sess.UserID),
			logger.Error(err),
		)
		respondError(w, http.StatusBadGateway, "failed to load permissions")
		return
	}

	if h.queries != nil {
		h.queries.Set(scope, key, body)
	}
	w.Header().Set("X-Cache", "miss")
	respondJSON(w, http.StatusOK, json.RawMessage(body))
}

// newClient builds the API client of the browser context behind r.
func (h *Handler) newClient(r *http.Request) (*apiclient.Client, error) {
	opts := h.clientOpts
	opts.Cookies = r.Cookies()
	opts.ActiveRole = h.activeRole(r)
	opts.FlightKey = h.flightKey(r)
	return apiclient.New(h.baseURL(r.Host), opts)
}

func (h *Handler) activeRole(r *http.Request) string {
	if c, err := r.Cookie(h.session.ActiveRoleCookie); err == nil {
		return c.Value
	}
	return ""
}

// flightKey identifies the browser context for refresh sharing. Only
// requests presenting the same refresh credential share a flight; anything
// else gets a private key from the client. It never contains a raw token.
func (h *Handler) flightKey(r *http.Request) string {
	if h.session.RefreshCookie == "" {
		return ""
	}
	c, err := r.Cookie(h.session.RefreshCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	return hostrouter.Hostname(r.Host) + "|" + apiclient.FlightKey(c.Value)
}

// forwardCookies relays backend-issued cookies to the browser.
func (h *Handler) forwardCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		out := *c
		out.Domain = h.session.CookieDomain
		if out.Path == "" {
			out.Path = "/"
		}
		http.SetCookie(w, &out)
	}
}

func (h *Handler) activeRoleCookie(role string) *http.Cookie {
	return &http.Cookie{
		Name:     h.session.ActiveRoleCookie,
		Value:    role,
		Path:     "/",
		Domain:   h.session.CookieDomain,
		Secure:   h.session.CookieSecure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
	}
}

func (h *Handler) clearActiveRole(w http.ResponseWriter) {
	c := h.activeRoleCookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (h *Handler) loginURL(r *http.Request) string {
	return h.session.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/session") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", logger.Error(err))
	}
}

func respondRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func getIPAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
