package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/serat-auto/backoffice/internal/platform/httpx"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Middleware resolves bearer tokens and enforces roles.
type Middleware struct {
	Tokens *TokenStore
	Logger *slog.Logger
}

// Authenticate requires a valid bearer token and stores the actor in the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		principal, err := m.Tokens.Resolve(r.Context(), token)
		if err != nil {
			if !isUnauthorized(err) && m.Logger != nil {
				m.Logger.Error("resolve bearer token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		actor := shared.Actor{ID: principal.UserID, Email: principal.Email, Role: principal.Role}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRoles ensures the current actor holds at least one of the roles.
func (m Middleware) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if len(roles) > 0 && !actor.HasRole(roles...) {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func isUnauthorized(err error) bool {
	return httpx.StatusFor(err) == http.StatusUnauthorized
}
