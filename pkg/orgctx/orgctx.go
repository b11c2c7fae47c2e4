// Package orgctx carries the organization identity resolved for a request
// through its context. Unlike the teacher's schema-per-tenant model, this
// package never switches the database search_path: every repository method
// takes an explicit organizationId and applies it as a WHERE predicate, so
// the only thing this package owns is extracting that ID from the request
// and making it available to handlers and services.
package orgctx

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const orgIDKey contextKey = "organization_id"

// NewContext stores an organization ID in the context.
func NewContext(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, orgIDKey, id)
}

// FromContext extracts the organization ID from the context.
// Returns uuid.Nil if none is set.
func FromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(orgIDKey).(uuid.UUID)
	return v
}

// Resolver identifies the organization for the current request.
type Resolver interface {
	Resolve(r *http.Request) (uuid.UUID, error)
}

// HeaderResolver resolves the organization from the X-Organization-ID header.
// Intended for development and for deployments that terminate authentication
// upstream of this service (a gateway or sidecar that has already validated
// the caller and injects the organization ID). Production deployments that
// need to authenticate the header's value themselves should wrap this
// resolver rather than replace it.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Organization-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-Organization-ID header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid X-Organization-ID header: %w", err)
	}
	return id, nil
}

// Middleware resolves the organization for each request and stores it in
// the request context. Requests that fail resolution are rejected with 401.
func Middleware(resolver Resolver, respondError func(w http.ResponseWriter, status int, err, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}
