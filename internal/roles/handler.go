package roles

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/platform/httpx"
	"github.com/nexhub/nexhub/internal/rbac"
	"github.com/nexhub/nexhub/internal/shared"
)

// Handler wires the role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes. Authorization happens inside the
// service (the engine guards its own administration), so no permission
// middleware wraps these.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.list)
	r.Post("/roles", h.create)
	r.Get("/roles/{roleID}", h.get)
	r.Patch("/roles/{roleID}", h.update)
	r.Delete("/roles/{roleID}", h.delete)
	r.Post("/roles/{roleID}/clone", h.clone)
	r.Post("/users/{userID}/roles/{roleID}", h.assign)
	r.Delete("/users/{userID}/roles/{roleID}", h.remove)
}

type permissionPayload struct {
	Resource   string         `json:"resource" validate:"required"`
	Actions    []string       `json:"actions" validate:"required,min=1"`
	Scope      string         `json:"scope" validate:"required"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

type createRoleRequest struct {
	Name        string              `json:"name" validate:"required,min=2,max=100"`
	Description string              `json:"description" validate:"max=500"`
	Permissions []permissionPayload `json:"permissions" validate:"dive"`
	Priority    int                 `json:"priority" validate:"omitempty,min=1,max=100"`
}

type updateRoleRequest struct {
	Name        *string              `json:"name" validate:"omitempty,min=2,max=100"`
	Description *string              `json:"description" validate:"omitempty,max=500"`
	Permissions *[]permissionPayload `json:"permissions" validate:"omitempty,dive"`
	Priority    *int                 `json:"priority" validate:"omitempty,min=1,max=100"`
	Active      *bool                `json:"active"`
}

type cloneRoleRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
}

type roleResponse struct {
	ID          uuid.UUID                 `json:"id"`
	Name        string                    `json:"name"`
	Slug        string                    `json:"slug"`
	Description string                    `json:"description,omitempty"`
	System      bool                      `json:"isSystemRole"`
	Active      bool                      `json:"isActive"`
	Permissions []rbac.ResourcePermission `json:"permissions"`
	Priority    int                       `json:"priority"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

func toResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Slug:        role.Slug,
		Description: role.Description,
		System:      role.System,
		Active:      role.Active(),
		Permissions: role.Permissions,
		Priority:    role.Priority,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func toPermissions(payloads []permissionPayload) []rbac.ResourcePermission {
	if payloads == nil {
		return nil
	}
	perms := make([]rbac.ResourcePermission, 0, len(payloads))
	for _, p := range payloads {
		actions := make(rbac.ActionSet, len(p.Actions))
		for _, a := range p.Actions {
			actions[rbac.Action(a)] = true
		}
		perms = append(perms, rbac.ResourcePermission{
			Resource:   p.Resource,
			Actions:    actions,
			Scope:      rbac.Scope(p.Scope),
			Conditions: p.Conditions,
		})
	}
	return perms
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor identity")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := ListFilters{
		IncludeInactive: q.Get("includeInactive") == "true",
		IncludeSystem:   q.Get("includeSystem") != "false",
		Page:            page,
		Limit:           limit,
	}
	result, err := h.service.List(r.Context(), caller, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	items := make([]roleResponse, 0, len(result.Roles))
	for _, role := range result.Roles {
		items = append(items, toResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": items, "pagination": result.Pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, roleID, ok := h.callerAndRole(w, r)
	if !ok {
		return
	}
	role, err := h.service.Get(r.Context(), caller, roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor identity")
		return
	}
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.Create(r.Context(), caller, CreateRoleInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Permissions: toPermissions(req.Permissions),
		Priority:    req.Priority,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(role))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caller, roleID, ok := h.callerAndRole(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		Active:      req.Active,
	}
	if req.Permissions != nil {
		perms := toPermissions(*req.Permissions)
		in.Permissions = &perms
	}
	role, err := h.service.Update(r.Context(), caller, roleID, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, roleID, ok := h.callerAndRole(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), caller, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clone(w http.ResponseWriter, r *http.Request) {
	caller, roleID, ok := h.callerAndRole(w, r)
	if !ok {
		return
	}
	var req cloneRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.Clone(r.Context(), caller, roleID, strings.TrimSpace(req.Name))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(role))
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	caller, userID, roleID, ok := h.callerUserRole(w, r)
	if !ok {
		return
	}
	if err := h.service.Assign(r.Context(), caller, userID, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	caller, userID, roleID, ok := h.callerUserRole(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), caller, userID, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) callerAndRole(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	caller, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor identity")
		return uuid.Nil, uuid.Nil, false
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return uuid.Nil, uuid.Nil, false
	}
	return caller, roleID, true
}

func (h *Handler) callerUserRole(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, uuid.UUID, bool) {
	caller, roleID, ok := h.callerAndRole(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	return caller, userID, roleID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Error())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing required permission")
	case errors.Is(err, ErrSystemRoleImmutable):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, rbac.ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, rbac.ErrActorNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRoleInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrRoleAlreadyAssigned):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrRoleInactive), errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("role handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
