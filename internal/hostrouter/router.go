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

package hostrouter

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Action is what the router does with a request.
type Action int

const (
	// ActionPass forwards the request unmodified.
	ActionPass Action = iota
	// ActionRewrite forwards the request under the tenant namespace.
	ActionRewrite
	// ActionRedirect answers with a redirect.
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionRewrite:
		return "rewrite"
	case ActionRedirect:
		return "redirect"
	default:
		return "pass"
	}
}

// Routing modes for tenant hosts on the marketing listener.
const (
	RoutingRewrite  = "rewrite"
	RoutingRedirect = "redirect"
)

// DefaultBypassPrefixes are internal asset and API paths that are never
// tenant pages.
var DefaultBypassPrefixes = []string{"/api", "/_next/static", "/_next/image", "/favicon.ico"}

// Config configures a Router.
type Config struct {
	RootDomain     string
	RootAliases    []string
	MarketingURL   string
	BypassPrefixes []string

	// Routing is RoutingRewrite (default) or RoutingRedirect. In redirect
	// mode tenant hosts are sent to the tenant shell origin instead of being
	// rewritten in place.
	Routing      string
	TenantScheme string
	TenantPort   string

	// Observe, when set, sees every decision applied by the middleware.
	Observe func(ctx context.Context, d Decision)
}

// Decision is the routing outcome for a single request.
type Decision struct {
	Action         Action
	Classification Classification
	Bypassed       bool

	// Path and RawQuery are the rewritten target for ActionRewrite.
	Path     string
	RawQuery string

	// Location is the redirect target for ActionRedirect.
	Location string
}

// Target returns the rewritten path with its query string.
func (d Decision) Target() string {
	if d.RawQuery == "" {
		return d.Path
	}
	return d.Path + "?" + d.RawQuery
}

// Router applies host-based tenant routing.
type Router struct {
	cfg      Config
	bypass   []string
	redirect bool
}

// New creates a router. The configuration is captured once.
func New(cfg Config) *Router {
	bypass := cfg.BypassPrefixes
	if len(bypass) == 0 {
		bypass = DefaultBypassPrefixes
	}
	return &Router{
		cfg:      cfg,
		bypass:   append([]string(nil), bypass...),
		redirect: strings.EqualFold(cfg.Routing, RoutingRedirect),
	}
}

// Classify classifies host against the configured root domain.
func (rt *Router) Classify(host string) Classification {
	return Classify(host, rt.cfg.RootDomain, rt.cfg.RootAliases...)
}

// MarketingURL returns the canonical marketing root.
func (rt *Router) MarketingURL() string {
	return rt.cfg.MarketingURL
}

// Bypassed reports whether p is an asset/API path or carries a file extension.
func (rt *Router) Bypassed(p string) bool {
	return rt.BypassedPrefix(p) || path.Ext(path.Base(p)) != ""
}

// BypassedPrefix reports whether p falls under a configured bypass prefix.
// The tenant shell skips its guards only for these paths.
func (rt *Router) BypassedPrefix(p string) bool {
	for _, prefix := range rt.bypass {
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// Decide computes the routing decision for the marketing listener.
func (rt *Router) Decide(host, reqPath, rawQuery string) Decision {
	c := rt.Classify(host)
	d := Decision{Action: ActionPass, Classification: c, Path: reqPath, RawQuery: rawQuery}

	if rt.Bypassed(reqPath) {
		d.Bypassed = true
		return d
	}

	switch c.Kind {
	case KindRoot:
		return d
	case KindTenant:
		if rt.redirect {
			d.Action = ActionRedirect
			d.Location = rt.tenantOrigin(c.Label, reqPath, rawQuery)
			return d
		}
		d.Action = ActionRewrite
		d.Path = TenantPath(c.Label, reqPath)
		return d
	default:
		d.Action = ActionRedirect
		d.Location = rt.cfg.MarketingURL
		return d
	}
}

// DecideTenantShell computes the decision for the tenant shell listener,
// which must never serve root-domain traffic.
func (rt *Router) DecideTenantShell(host, reqPath, rawQuery string) Decision {
	c := rt.Classify(host)
	d := Decision{Action: ActionPass, Classification: c, Path: reqPath, RawQuery: rawQuery}

	if rt.BypassedPrefix(reqPath) {
		d.Bypassed = true
		return d
	}
	if c.Kind != KindTenant {
		d.Action = ActionRedirect
		d.Location = rt.cfg.MarketingURL
	}
	return d
}

// TenantPath maps a request path into the tenant namespace. The root path
// maps to the namespace root, not to a trailing empty segment.
func TenantPath(label, reqPath string) string {
	if reqPath == "" || reqPath == "/" {
		return "/" + label
	}
	if !strings.HasPrefix(reqPath, "/") {
		reqPath = "/" + reqPath
	}
	return "/" + label + reqPath
}

func (rt *Router) tenantOrigin(label, reqPath, rawQuery string) string {
	scheme := rt.cfg.TenantScheme
	if scheme == "" {
		scheme = "http"
	}
	host := label + "." + strings.ToLower(rt.cfg.RootDomain)
	if rt.cfg.TenantPort != "" {
		host += ":" + rt.cfg.TenantPort
	}
	u := url.URL{Scheme: scheme, Host: host, Path: reqPath, RawQuery: rawQuery}
	return u.String()
}

// Middleware applies Decide to every request before any page logic runs.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := rt.Decide(r.Host, r.URL.Path, r.URL.RawQuery)
		rt.apply(w, r, d, next)
	})
}

// RequireTenantHost guards the tenant shell: root and unrecognized hosts are
// redirected to the marketing root.
func (rt *Router) RequireTenantHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := rt.DecideTenantShell(r.Host, r.URL.Path, r.URL.RawQuery)
		rt.apply(w, r, d, next)
	})
}

func (rt *Router) apply(w http.ResponseWriter, r *http.Request, d Decision, next http.Handler) {
	if rt.cfg.Observe != nil {
		rt.cfg.Observe(r.Context(), d)
	}
	switch d.Action {
	case ActionRedirect:
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
		return
	case ActionRewrite:
		r2 := r.Clone(WithDecision(r.Context(), d))
		r2.URL.Path = d.Path
		r2.URL.RawPath = ""
		r2.URL.RawQuery = d.RawQuery
		r2.RequestURI = d.Target()
		next.ServeHTTP(w, r2)
		return
	default:
		next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
	}
}
