// Package tenant carries the logical tenant boundary (folder, tenant,
// organization) that scopes every unit of work.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// DefaultOrganization is used when neither the caller nor the configuration
// names an organization.
const DefaultOrganization = "botmaster"

// ErrMissingFolder is returned when a context is built without a folder key.
var ErrMissingFolder = errors.New("folder key is required")

// Context is the immutable tenant scope of one unit of work.
// It must be bound to a connection before the first query runs on it.
type Context struct {
	FolderKey    uuid.UUID
	TenantKey    *uuid.UUID
	Organization string
}

// New validates the inputs and returns a tenant context.
// An empty organization falls back to defaultOrg, then to DefaultOrganization.
func New(folderKey uuid.UUID, tenantKey *uuid.UUID, organization, defaultOrg string) (Context, error) {
	if folderKey == uuid.Nil {
		return Context{}, ErrMissingFolder
	}
	org := strings.TrimSpace(organization)
	if org == "" {
		org = strings.TrimSpace(defaultOrg)
	}
	if org == "" {
		org = DefaultOrganization
	}
	var tk *uuid.UUID
	if tenantKey != nil && *tenantKey != uuid.Nil {
		k := *tenantKey
		tk = &k
	}
	return Context{FolderKey: folderKey, TenantKey: tk, Organization: org}, nil
}

// Valid reports whether the context can be bound to a connection.
func (c Context) Valid() bool {
	return c.FolderKey != uuid.Nil
}

// TenantKeyString returns the tenant key as text, or "" when unset.
func (c Context) TenantKeyString() string {
	if c.TenantKey == nil {
		return ""
	}
	return c.TenantKey.String()
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying tc.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}
