package rbac

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/platform/httpx"
	"github.com/nexhub/nexhub/internal/shared"
)

// Handler exposes the permission catalog, self-service permission
// views and the administrative cache controls.
type Handler struct {
	logger     *slog.Logger
	gate       *Gate
	cache      *Cache
	middleware Middleware
	isSuper    func(r *http.Request, actorID uuid.UUID) (bool, error)
}

// NewHandler builds Handler instance. isSuper gates the global cache
// flush to the top-privilege actor class.
func NewHandler(logger *slog.Logger, gate *Gate, cache *Cache, middleware Middleware, isSuper func(r *http.Request, actorID uuid.UUID) (bool, error)) *Handler {
	return &Handler{logger: logger, gate: gate, cache: cache, middleware: middleware, isSuper: isSuper}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Require("permissions", ActionRead))
		r.Get("/permissions", h.listCatalog)
	})
	r.Get("/me/permissions", h.myPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Require("system", ActionUpdate))
		r.Post("/admin/cache/users/{userID}/invalidate", h.invalidateUser)
		r.Post("/admin/cache/invalidate", h.invalidateAll)
	})
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"catalog": Catalog()})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor identity")
		return
	}
	resolved, err := h.gate.UserPermissions(r.Context(), actorID)
	if err != nil {
		h.logger.Error("resolve own permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": resolved})
}

func (h *Handler) invalidateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	if err := h.cache.Invalidate(r.Context(), userID); err != nil {
		h.logger.Error("invalidate user cache", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invalidated": userID})
}

// invalidateAll flushes the whole permission cache. On top of the
// system guard it re-checks the super-admin class: the flush is
// O(all actors) expensive and defeats caching platform-wide.
func (h *Handler) invalidateAll(w http.ResponseWriter, r *http.Request) {
	actorID, _ := shared.ActorFromContext(r.Context())
	super, err := h.isSuper(r, actorID)
	if err != nil {
		h.logger.Error("super admin check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if !super {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "global cache flush requires super admin")
		return
	}
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		h.logger.Error("invalidate all caches", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invalidated": "all"})
}
