package tenant

import (
	"context"
	"net/url"

	"github.com/edusekai/edusekai/internal/apiclient"
)

// APIDirectory asks the backend's domain check endpoint, scoped to the
// tenant's own API host.
type APIDirectory struct {
	baseURL func(label string) *url.URL
	opts    apiclient.Options
}

// NewAPIDirectory creates a directory that resolves the API base for a
// label with baseURL.
func NewAPIDirectory(baseURL func(label string) *url.URL, opts apiclient.Options) *APIDirectory {
	return &APIDirectory{baseURL: baseURL, opts: opts}
}

// Exists implements Directory.
func (d *APIDirectory) Exists(ctx context.Context, label string) (bool, error) {
	c, err := apiclient.New(d.baseURL(label), d.opts)
	if err != nil {
		return false, err
	}
	return c.CheckDomain(ctx, label)
}
