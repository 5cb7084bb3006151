package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
)

// SessionCookie holds the session token for browser clients.
const SessionCookie = "token"

// SignInPath is where page requests without a session are sent.
const SignInPath = "/sign-in"

// TokenFromRequest reads the session token from the Authorization header,
// the session cookie or the X-Auth-Token header, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get("X-Auth-Token")
}

// Auth resolves the request's session and stores the principal in the
// context. With roles set, only users holding one of them pass.
func Auth(guard *auth.Guard, logger *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := guard.Resolve(r.Context(), TokenFromRequest(r), roles...)
			if err != nil {
				handleUnauthorized(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// handleUnauthorized redirects page requests to the sign-in page and
// answers API requests with a JSON error.
func handleUnauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if isWebRequest(r) && apperr.KindOf(err) != apperr.KindInternal {
		http.Redirect(w, r, SignInPath, http.StatusFound)
		return
	}
	respond.Error(w, logger, err)
}

func isWebRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") && !strings.HasPrefix(r.URL.Path, "/api/")
}

// GetPrincipal returns the authenticated caller, or nil outside Auth.
func GetPrincipal(ctx context.Context) *auth.Principal {
	return auth.PrincipalFrom(ctx)
}

// GetUser returns the authenticated user, or nil outside Auth.
func GetUser(ctx context.Context) *models.User {
	if p := auth.PrincipalFrom(ctx); p != nil {
		return p.User
	}
	return nil
}

func GetUserID(ctx context.Context) uuid.UUID {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return uuid.Nil
}

// SettingsAccess lets through admins the owner has allowed to manage
// settings, and the owner.
type SettingsAccess interface {
	CanManage(ctx context.Context, user *models.User) (bool, error)
}

func RequireSettingsAccess(access SettingsAccess, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				respond.Error(w, logger, apperr.ErrUnauthorized)
				return
			}
			ok, err := access.CanManage(r.Context(), user)
			if err != nil {
				respond.Error(w, logger, err)
				return
			}
			if !ok {
				respond.Error(w, logger, apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
