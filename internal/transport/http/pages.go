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

package http

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edusekai/edusekai/internal/hostrouter"
	"github.com/edusekai/edusekai/internal/observability/logger"
)

// Headers added to requests forwarded to the page origin.
const (
	HeaderTenant     = "X-Tenant-Label"
	HeaderActiveRole = "X-Active-Role"
)

// PagesConfig selects where rendered pages come from.
type PagesConfig struct {
	OriginURL string
	StaticDir string
}

// NewPages returns the page handler: a reverse proxy when an origin is
// configured, a static bundle otherwise, or nil when neither is set.
func NewPages(cfg PagesConfig) (http.Handler, error) {
	switch {
	case cfg.OriginURL != "":
		origin, err := url.Parse(cfg.OriginURL)
		if err != nil || origin.Host == "" {
			return nil, fmt.Errorf("invalid page origin %q", cfg.OriginURL)
		}
		return NewPageProxy(origin, nil), nil
	case cfg.StaticDir != "":
		info, err := os.Stat(cfg.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open static dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static dir %q is not a directory", cfg.StaticDir)
		}
		return SPAHandler{StaticFS: os.DirFS(cfg.StaticDir)}, nil
	default:
		return nil, nil
	}
}

// NewPageProxy forwards page requests to origin, keeping the browser's Host
// and passing the tenant label and active role along.
func NewPageProxy(origin *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host

			pr.Out.Header.Del(HeaderTenant)
			pr.Out.Header.Del(HeaderActiveRole)
			if label := hostrouter.TenantLabel(pr.In.Context()); label != "" {
				pr.Out.Header.Set(HeaderTenant, label)
			}
			if role := GetGate(pr.In.Context()).ActiveRole(); role != "" {
				pr.Out.Header.Set(HeaderActiveRole, role)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.ErrorContext(r.Context(), "page origin unavailable",
				logger.Component("pages"),
				logger.Path(r.URL.Path),
				logger.Error(err),
			)
			respondError(w, http.StatusBadGateway, "page origin unavailable")
		},
	}
}

// SPAHandler serves a Single Page Application from a static filesystem.
// It serves static files if they exist, otherwise it falls back to index.html.
type SPAHandler struct {
	StaticFS fs.FS
}

func (h SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		h.serveIndex(w)
		return
	}

	f, err := h.StaticFS.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			h.serveIndex(w)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	// Directories are client-side routes.
	if stat, err := f.Stat(); err == nil && stat.IsDir() {
		h.serveIndex(w)
		return
	}

	http.FileServer(http.FS(h.StaticFS)).ServeHTTP(w, r)
}

func (h SPAHandler) serveIndex(w http.ResponseWriter) {
	content, err := fs.ReadFile(h.StaticFS, "index.html")
	if err != nil {
		http.Error(w, "index.html not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
