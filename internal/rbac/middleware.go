package rbac

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// Require ensures the current actor may perform action on resource.
func (m Middleware) Require(resource string, action Action) func(http.Handler) http.Handler {
	return m.guard(func(r *http.Request, actorID uuid.UUID) (bool, error) {
		return m.Gate.Can(r.Context(), actorID, resource, action, nil)
	})
}

// RequireAny ensures the current actor passes at least one check.
func (m Middleware) RequireAny(checks ...Check) func(http.Handler) http.Handler {
	return m.guard(func(r *http.Request, actorID uuid.UUID) (bool, error) {
		return m.Gate.CanAny(r.Context(), actorID, checks)
	})
}

// RequireAll ensures the current actor passes every check.
func (m Middleware) RequireAll(checks ...Check) func(http.Handler) http.Handler {
	return m.guard(func(r *http.Request, actorID uuid.UUID) (bool, error) {
		return m.Gate.CanAll(r.Context(), actorID, checks)
	})
}

func (m Middleware) guard(check func(*http.Request, uuid.UUID) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			allowed, err := check(r, actorID)
			if err != nil {
				if errors.Is(err, ErrActorNotFound) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				if m.Logger != nil {
					m.Logger.Error("rbac guard", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
