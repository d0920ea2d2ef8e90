package postgres

import (
	"context"
	"fmt"
	"strings"
)

// TenantDirectory implements tenant.Directory over the backend's tenant
// tables (organizations_domain joined to organizations_organization).
type TenantDirectory struct {
	db   *DB
	root string
}

// NewTenantDirectory creates a directory. A domain row matches a label when
// it equals the label or {label}.{root}, ignoring case.
func NewTenantDirectory(db *DB, rootDomain string) *TenantDirectory {
	return &TenantDirectory{db: db, root: strings.ToLower(rootDomain)}
}

const existsQuery = `
	SELECT EXISTS (
		SELECT 1
		FROM organizations_domain d
		JOIN organizations_organization o ON o.id = d.tenant_id
		WHERE (lower(d.domain) = $1 OR lower(d.domain) = $2)
		  AND o.is_active
	)`

// Exists implements tenant.Directory.
func (r *TenantDirectory) Exists(ctx context.Context, label string) (bool, error) {
	label = strings.ToLower(label)
	fqdn := label
	if r.root != "" {
		fqdn = label + "." + r.root
	}

	var exists bool
	if err := r.db.pool.QueryRow(ctx, existsQuery, label, fqdn).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query tenant domain: %w", err)
	}
	return exists, nil
}
