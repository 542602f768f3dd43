package groups

import (
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kanbu-pm/kanbu/internal/platform/cache"
	"github.com/kanbu-pm/kanbu/internal/platform/httpx"
)

// Handler exposes group and membership management over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	decisions *cache.Decisions
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, decisions *cache.Decisions) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), decisions: decisions}
}

// MountRoutes registers group routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createGroup)
	r.Delete("/{groupID}", h.deactivate)
	r.Post("/{groupID}/members", h.addMember)
	r.Delete("/{groupID}/members/{userID}", h.removeMember)
	r.Get("/memberships", h.memberships)
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required"`
}

type groupResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
	IsActive    bool   `json:"isActive"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.CreateSecurityGroup(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("create group", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, groupResponse{
		ID: g.ID, Name: g.Name, Type: string(g.Type),
		WorkspaceID: g.WorkspaceID, ProjectID: g.ProjectID, IsActive: g.IsActive,
	})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.service.DeactivateGroup(r.Context(), groupID); err != nil {
		h.logger.Error("deactivate group", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.invalidateDecisions(r)
	w.WriteHeader(http.StatusNoContent)
}

type addMemberRequest struct {
	UserID    int64      `json:"userId" validate:"required"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req addMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AddMember(r.Context(), groupID, req.UserID, req.ExpiresAt); err != nil {
		h.logger.Error("add member", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.invalidateDecisions(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), groupID, userID); err != nil {
		h.logger.Error("remove member", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.invalidateDecisions(r)
	w.WriteHeader(http.StatusNoContent)
}

// invalidateDecisions orphans cached check results in both resolvers. Every
// membership or group-state mutation changes which grants a user can reach,
// so a cached ALLOW must not outlive the mutation.
func (h *Handler) invalidateDecisions(r *http.Request) {
	h.decisions.InvalidateAll(r.Context(), cache.NamespaceACL, cache.NamespaceNamed)
}

type membershipResponse struct {
	GroupID   int64  `json:"groupId"`
	GroupName string `json:"groupName"`
}

func (h *Handler) memberships(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId must be an integer")
		return
	}
	memberships, err := h.service.MembershipsFor(r.Context(), userID)
	if err != nil {
		h.logger.Error("list memberships", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, membershipResponse{GroupID: m.GroupID, GroupName: m.GroupName})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be an integer")
		return 0, false
	}
	return id, true
}
