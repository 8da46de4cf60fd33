package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/nexhub/nexhub/internal/shared"
)

func guardedRequest(t *testing.T, mw func(http.Handler) http.Handler, actorID *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if actorID != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actorID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRequire(t *testing.T) {
	actorID := uuid.New()
	mw := Middleware{Gate: NewGate(&staticSource{perms: PermissionMap{
		"blog-posts": entry(ScopeAll, ActionRead),
	}})}

	rec := guardedRequest(t, mw.Require("blog-posts", ActionRead), &actorID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = guardedRequest(t, mw.Require("blog-posts", ActionDelete), &actorID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = guardedRequest(t, mw.Require("blog-posts", ActionRead), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "missing identity denies")
}

func TestMiddlewareUnknownActorDenies(t *testing.T) {
	actorID := uuid.New()
	mw := Middleware{Gate: NewGate(&staticSource{err: ErrActorNotFound})}

	rec := guardedRequest(t, mw.Require("blog-posts", ActionRead), &actorID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareRequireAnyAndAll(t *testing.T) {
	actorID := uuid.New()
	mw := Middleware{Gate: NewGate(&staticSource{perms: PermissionMap{
		"blog-posts": entry(ScopeAll, ActionRead),
	}})}

	rec := guardedRequest(t, mw.RequireAny(
		Check{Resource: "users", Action: ActionDelete},
		Check{Resource: "blog-posts", Action: ActionRead},
	), &actorID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = guardedRequest(t, mw.RequireAll(
		Check{Resource: "users", Action: ActionDelete},
		Check{Resource: "blog-posts", Action: ActionRead},
	), &actorID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
