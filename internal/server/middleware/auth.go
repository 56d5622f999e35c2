package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Response headers echoing the resolved principal, for downstream proxies
// and logging.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserAdmin = "X-User-Admin"
)

// RequireAuth returns an HTTP middleware that enforces JWT bearer-token
// authentication. Requests without a well-formed Authorization header, with
// a token that fails verification, or whose user no longer exists are
// rejected with 401. On success the principal, including the admin flag
// loaded fresh from the store, is attached to the request context and echoed
// in the X-User-Id / X-User-Admin response headers.
func RequireAuth(authSvc *service.AuthService, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				m.RecordAuth("bearer", "rejected")
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			principal, err := authSvc.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrUserNotFound):
					m.RecordAuth("bearer", "rejected")
					writeAuthError(w, http.StatusUnauthorized, "User not found")
				case errors.Is(err, service.ErrInvalidCredentials):
					m.RecordAuth("bearer", "rejected")
					writeAuthError(w, http.StatusUnauthorized, "Token is not valid")
				default:
					m.RecordAuth("bearer", "error")
					writeAuthError(w, http.StatusInternalServerError, "Authentication error")
				}
				return
			}

			m.RecordAuth("bearer", "ok")
			w.Header().Set(HeaderUserID, principal.ID)
			w.Header().Set(HeaderUserAdmin, strconv.FormatBool(principal.IsAdmin))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// OptionalAuth runs the same decode and verify path as RequireAuth, but
// every failure mode falls through to the next handler with no principal
// set. Endpoints behind it behave differently for authenticated and
// anonymous callers without requiring authentication.
func OptionalAuth(authSvc *service.AuthService, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A signature-authenticated principal set upstream wins.
			if GetPrincipal(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authSvc.Authenticate(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			m.RecordAuth("bearer", "ok")
			w.Header().Set(HeaderUserID, principal.ID)
			w.Header().Set(HeaderUserAdmin, strconv.FormatBool(principal.IsAdmin))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after RequireAuth in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePrincipal rejects requests that reached it without any principal,
// regardless of which authentication path would have produced one. Used on
// mutating routes that accept either a signed request or a bearer token.
func RequirePrincipal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPrincipal(r.Context()) == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a context carrying the given principal. Exported for
// handler tests that bypass the auth middleware.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(h, "Bearer ")
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}
