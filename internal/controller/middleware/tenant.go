// Package middleware contains HTTP middleware for the botmaster API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"botmaster/internal/logger"
	"botmaster/internal/service"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

const (
	HeaderFolderKey    = "X-Folder-Key"
	HeaderTenantKey    = "X-Tenant-Key"
	HeaderOrganization = "X-Organization"
	HeaderUser         = "X-User"
	HeaderRequestID    = "X-Request-ID"
)

type userKey struct{}

// Tenant builds the tenant context from request headers. Requests without a
// valid folder key never reach the handler.
func Tenant(defaultOrg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderFolderKey))
			if raw == "" {
				reject(w, http.StatusBadRequest, HeaderFolderKey+" header is required")
				return
			}
			folderKey, err := uuid.Parse(raw)
			if err != nil {
				reject(w, http.StatusBadRequest, "Invalid "+HeaderFolderKey+" header")
				return
			}

			var tenantKey *uuid.UUID
			if raw := strings.TrimSpace(r.Header.Get(HeaderTenantKey)); raw != "" {
				k, err := uuid.Parse(raw)
				if err != nil {
					reject(w, http.StatusBadRequest, "Invalid "+HeaderTenantKey+" header")
					return
				}
				tenantKey = &k
			}

			tc, err := tenant.New(folderKey, tenantKey, r.Header.Get(HeaderOrganization), defaultOrg)
			if err != nil {
				reject(w, http.StatusBadRequest, HeaderFolderKey+" header is required")
				return
			}

			ctx := tenant.WithContext(r.Context(), tc)
			ctx = context.WithValue(ctx, userKey{}, strings.TrimSpace(r.Header.Get(HeaderUser)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the acting user named by the request, or "".
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// RequestID propagates the caller's request id, or mints one, into the
// context and the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// reject writes a failed envelope.
func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(service.Response[any]{
		Success:    false,
		Message:    message,
		StatusCode: status,
	})
}
