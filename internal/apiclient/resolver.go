// Package apiclient talks to the backend REST API on behalf of one browser
// context, carrying its cookies and surviving one session refresh per call.
package apiclient

import (
	"net/url"
	"strings"

	"github.com/edusekai/edusekai/internal/hostrouter"
)

// Resolver computes the tenant-scoped API base URL from a hostname.
type Resolver struct {
	Scheme      string
	APIRoot     string // host[:port] of the API, without tenant label
	PathPrefix  string
	RootDomain  string
	RootAliases []string
}

// BaseURL returns {scheme}://{label}.{apiRoot}{prefix} for tenant hosts and
// {scheme}://{apiRoot}{prefix} for everything else.
func (r Resolver) BaseURL(host string) *url.URL {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	apiHost := r.APIRoot
	c := hostrouter.Classify(host, r.RootDomain, r.RootAliases...)
	if c.IsTenant() {
		apiHost = c.Label + "." + apiHost
	}
	return &url.URL{
		Scheme: scheme,
		Host:   apiHost,
		Path:   "/" + strings.Trim(r.PathPrefix, "/"),
	}
}

// TenantLabel returns the label carried by host, or "" for root and
// unrecognized hosts.
func (r Resolver) TenantLabel(host string) string {
	return hostrouter.Classify(host, r.RootDomain, r.RootAliases...).Label
}
