package roles

import (
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kanbu-pm/kanbu/internal/platform/httpx"
)

// Handler exposes role assignment management over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/assignments", h.assign)
	r.Delete("/assignments", h.unassign)
	r.Get("/check", h.check)
}

type assignRequest struct {
	GroupID     int64  `json:"groupId" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=viewer member admin owner"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

type assignmentResponse struct {
	GroupID     int64  `json:"groupId"`
	Role        string `json:"role"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.AssignRole(r.Context(), req.GroupID, Role(req.Role), req.WorkspaceID, req.ProjectID)
	if err != nil {
		h.logger.Error("assign role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignmentResponse{
		GroupID: a.GroupID, Role: string(a.Role),
		WorkspaceID: a.WorkspaceID, ProjectID: a.ProjectID,
	})
}

type unassignRequest struct {
	GroupID     int64  `json:"groupId" validate:"required"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UnassignRole(r.Context(), req.GroupID, req.WorkspaceID, req.ProjectID); err != nil {
		h.logger.Error("unassign role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("userId"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId must be an integer")
		return
	}
	min := Role(q.Get("minRole"))
	if !min.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "minRole must be one of viewer, member, admin, owner")
		return
	}
	var workspaceID, projectID *int64
	if raw := q.Get("workspaceId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "workspaceId must be an integer")
			return
		}
		workspaceID = &id
	}
	if raw := q.Get("projectId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "projectId must be an integer")
			return
		}
		projectID = &id
	}
	ok, err := h.service.HasAtLeastRole(r.Context(), userID, workspaceID, projectID, min)
	if err != nil {
		h.logger.Error("check role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"satisfied": ok})
}
