package http

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/audit"
	"github.com/edusekai/edusekai/internal/authz"
	"github.com/edusekai/edusekai/internal/hostrouter"
	"github.com/edusekai/edusekai/internal/observability/logger"
	"github.com/edusekai/edusekai/internal/session"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Host(r.Host),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				}
				if loc := ww.Header().Get("Location"); loc != "" {
					attrs = append(attrs, logger.Location(loc))
				}
				slog.InfoContext(r.Context(), "http_request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SubdomainGuard blocks tenant content until the tenant label is known to
// exist. Unknown tenants and failed lookups get the "institution not
// found" view with a link back to the marketing root.
func (h *Handler) SubdomainGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.router.BypassedPrefix(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		label := hostrouter.TenantLabel(r.Context())
		if label == "" {
			label = h.router.Classify(r.Host).Label
		}
		if label == "" {
			h.tenantNotFound(w, r, label)
			return
		}

		ctx, span := h.tracer.Start(r.Context(), "tenant.resolve")
		span.SetAttributes(attribute.String("tenant.label", label))
		err := h.tenants.Resolve(ctx, label, r.Host)
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		if err != nil {
			slog.InfoContext(r.Context(), "tenant rejected",
				logger.Component("transport"),
				logger.TenantLabel(label),
				logger.Host(r.Host),
				logger.Error(err),
			)
			h.tenantNotFound(w, r, label)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionMiddleware loads the session of the browser context. A session
// that cannot be refreshed ends here with a login redirect; any other
// failure continues with a pending gate.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := h.newClient(r)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to create api client",
				logger.Component("transport"),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx, span := h.tracer.Start(r.Context(), "session.load")
		sess, err := client.Me(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session load failed")
		}
		span.End()

		// Cookies issued so far, a refresh included, must reach the browser
		// whatever happens next.
		h.forwardCookies(w, client.TakeIssuedCookies())

		switch {
		case err == nil:
			if !sess.CanSwitchTo(sess.ActiveRole) {
				// An unheld active_role cookie is ignored.
				sess.ActiveRole = ""
				sess.ActiveRole = sess.EffectiveRole()
			}
			ctx := withSession(r.Context(), sess, authz.NewGate(sess), client)
			next.ServeHTTP(w, r.WithContext(ctx))

		case errors.Is(err, session.ErrSessionEnded), errors.Is(err, session.ErrNotAuthenticated):
			var refreshErr *apiclient.RefreshError
			if errors.As(err, &refreshErr) {
				h.audit.Log(r.Context(), audit.Event{
					Type:      audit.TypeSessionRefreshFailed,
					Tenant:    hostrouter.TenantLabel(r.Context()),
					Host:      r.Host,
					Resource:  r.URL.Path,
					IPAddress: getIPAddress(r),
					UserAgent: r.UserAgent(),
					Metadata:  h.refreshFailureMetadata(r, refreshErr),
				})
			}
			h.clearActiveRole(w)
			if wantsJSON(r) {
				respondJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "not authenticated",
					"login": h.loginURL(r),
				})
				return
			}
			http.Redirect(w, r, h.loginURL(r), http.StatusFound)

		default:
			slog.WarnContext(r.Context(), "session load failed, permission decisions pending",
				logger.Component("transport"),
				logger.Error(err),
			)
			ctx := withSession(r.Context(), nil, authz.PendingGate(), client)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// refreshFailureMetadata describes a failed refresh. The user id is read
// from the access cookie unverified and recorded as claimed only.
func (h *Handler) refreshFailureMetadata(r *http.Request, refreshErr *apiclient.RefreshError) map[string]any {
	md := map[string]any{"status": refreshErr.Status}
	if h.session.AccessCookie == "" {
		return md
	}
	c, err := r.Cookie(h.session.AccessCookie)
	if err != nil || c.Value == "" {
		return md
	}
	claims, err := session.PeekClaims(c.Value)
	if err != nil {
		md["access_claims"] = "malformed"
		return md
	}
	md["claimed_user_id"] = claims.UserID
	md["access_expired"] = claims.Expired(time.Now())
	return md
}

// RequirePermission gates a page on p. An unloaded session yields a
// retryable loading state rather than a denial.
func (h *Handler) RequirePermission(p string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gate := GetGate(r.Context())

			err := gate.Require(p)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)

			case errors.Is(err, authz.ErrAccessDenied):
				var actor string
				if sess := gate.Session(); sess != nil {
					actor = sess.UserID
				}
				h.audit.Log(r.Context(), audit.Event{
					Type:      audit.TypeAccessDenied,
					Tenant:    hostrouter.TenantLabel(r.Context()),
					Host:      r.Host,
					ActorID:   actor,
					Resource:  r.URL.Path,
					IPAddress: getIPAddress(r),
					UserAgent: r.UserAgent(),
					Metadata:  map[string]any{"permission": p, "active_role": gate.ActiveRole()},
				})
				h.respondView(w, r, http.StatusForbidden, view{
					Title:   "Access denied",
					Message: "You do not have permission to view this page.",
					Code:    "access_denied",
				})

			default:
				w.Header().Set("Retry-After", "2")
				h.respondView(w, r, http.StatusServiceUnavailable, view{
					Title:   "Loading",
					Message: "Your permissions are still loading. Please retry.",
					Code:    "session_pending",
				})
			}
		})
	}
}

func (h *Handler) tenantNotFound(w http.ResponseWriter, r *http.Request, label string) {
	h.respondView(w, r, http.StatusNotFound, view{
		Title:   "Institution not found",
		Message: "No institution is registered at this address.",
		Code:    "tenant_not_found",
		Tenant:  label,
		Link:    h.router.MarketingURL(),
	})
}

type view struct {
	Title   string `json:"title"`
	Message string `json:"error"`
	Code    string `json:"code"`
	Tenant  string `json:"tenant,omitempty"`
	Link    string `json:"link,omitempty"`
}

var viewTemplate = template.Must(template.New("view").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{- if .Tenant}}
<p><code>{{.Tenant}}</code></p>
{{- end}}
{{- if .Link}}
<p><a href="{{.Link}}">Back to EDU Sekai</a></p>
{{- end}}
</main>
</body>
</html>
`))

// respondView renders v as JSON for API callers and as HTML otherwise.
func (h *Handler) respondView(w http.ResponseWriter, r *http.Request, status int, v view) {
	if wantsJSON(r) {
		respondJSON(w, status, v)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := viewTemplate.Execute(w, v); err != nil {
		slog.ErrorContext(r.Context(), "failed to render view", logger.Error(err))
	}
}
