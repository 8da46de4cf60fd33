package audit

import (
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/platform/httpx"
	"github.com/nexhub/nexhub/internal/rbac"
)

// Handler exposes read access to the role mutation trail.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	middleware rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, middleware rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, middleware: middleware}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Require("audit-logs", rbac.ActionRead))
		r.Get("/audit/roles/{roleID}", h.byRole)
		r.Get("/audit/actors/{actorID}", h.byActor)
		r.Get("/audit/actions/{action}", h.byAction)
	})
}

func (h *Handler) byRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	page, limit := pageParams(r)
	result, err := h.service.ByRole(r.Context(), roleID, page, limit)
	if err != nil {
		h.logger.Error("audit by role", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) byActor(w http.ResponseWriter, r *http.Request) {
	actorID, err := uuid.Parse(chi.URLParam(r, "actorID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid actor id")
		return
	}
	page, limit := pageParams(r)
	result, err := h.service.ByActor(r.Context(), actorID, page, limit)
	if err != nil {
		h.logger.Error("audit by actor", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) byAction(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filters := QueryFilters{
		Action: Action(chi.URLParam(r, "action")),
		Page:   page,
		Limit:  limit,
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from timestamp")
			return
		}
		filters.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to timestamp")
			return
		}
		filters.To = to
	}
	result, err := h.service.ByAction(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit by action", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
