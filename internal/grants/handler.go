package grants

import (
	"fmt"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kanbu-pm/kanbu/internal/observability"
	"github.com/kanbu-pm/kanbu/internal/platform/cache"
	"github.com/kanbu-pm/kanbu/internal/platform/httpx"
	"github.com/kanbu-pm/kanbu/internal/shared"
)

const cacheNamespace = cache.NamespaceNamed

// adminPermission gates the grant and catalog mutation endpoints.
const adminPermission = "admin.settings"

// Handler exposes the named-permission resolver over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	decisions *cache.Decisions
	metrics   *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, decisions *cache.Decisions, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validate:  validator.New(),
		decisions: decisions,
		metrics:   metrics,
	}
}

// MountRoutes registers named-grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/effective", h.effective)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.ensurePermission)
	r.Post("/group-grants", h.grant)
	r.Delete("/group-grants", h.revoke)
	r.Put("/groups/{groupID}/grants", h.setGroupGrants)
	r.Get("/groups/{groupID}/grants", h.listGroupGrants)
}

type effectiveResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	GrantedBy string `json:"grantedBy,omitempty"`
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("userId"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId must be an integer")
		return
	}
	permission := q.Get("permission")
	if permission == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission is required")
		return
	}
	workspaceID, ok := optionalID(w, q.Get("workspaceId"), "workspaceId")
	if !ok {
		return
	}
	projectID, ok := optionalID(w, q.Get("projectId"), "projectId")
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("%d:%s:%s:%s", userID, permission, scopeString(workspaceID), scopeString(projectID))
	var resp effectiveResponse
	if h.decisions.Get(r.Context(), cacheNamespace, cacheKey, &resp) {
		httpx.JSON(w, http.StatusOK, resp)
		return
	}

	eff, err := h.service.GetEffectivePermission(r.Context(), userID, permission, workspaceID, projectID)
	if err != nil {
		h.logger.Error("effective permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveDecision("named", outcomeFor(eff.Reason))

	resp = effectiveResponse{Allowed: eff.Allowed, Reason: string(eff.Reason), GrantedBy: eff.GrantedBy}
	h.decisions.Set(r.Context(), cacheNamespace, cacheKey, resp)
	httpx.JSON(w, http.StatusOK, resp)
}

type grantResponse struct {
	ID          string `json:"id"`
	GroupID     int64  `json:"groupId"`
	Permission  string `json:"permission"`
	AccessType  string `json:"accessType"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func toGrantResponse(g Grant) grantResponse {
	return grantResponse{
		ID:          g.ID.String(),
		GroupID:     g.GroupID,
		Permission:  g.PermissionName,
		AccessType:  string(g.AccessType),
		WorkspaceID: g.WorkspaceID,
		ProjectID:   g.ProjectID,
	}
}

type grantRequest struct {
	GroupID     int64  `json:"groupId" validate:"required"`
	Permission  string `json:"permission" validate:"required"`
	AccessType  string `json:"accessType" validate:"required,oneof=ALLOW DENY"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.requireAdmin(w, r, req.WorkspaceID, req.ProjectID) {
		return
	}

	grant, err := h.service.GrantPermission(r.Context(), GrantParams{
		GroupID:        req.GroupID,
		PermissionName: req.Permission,
		AccessType:     AccessType(req.AccessType),
		WorkspaceID:    req.WorkspaceID,
		ProjectID:      req.ProjectID,
	})
	if err != nil {
		h.logger.Error("grant permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.decisions.Invalidate(r.Context(), cacheNamespace)
	httpx.JSON(w, http.StatusOK, toGrantResponse(grant))
}

type revokeGrantRequest struct {
	GroupID     int64  `json:"groupId" validate:"required"`
	Permission  string `json:"permission" validate:"required"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.requireAdmin(w, r, req.WorkspaceID, req.ProjectID) {
		return
	}

	if err := h.service.RevokePermission(r.Context(), req.GroupID, req.Permission, req.WorkspaceID, req.ProjectID); err != nil {
		h.logger.Error("revoke permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.decisions.Invalidate(r.Context(), cacheNamespace)
	w.WriteHeader(http.StatusNoContent)
}

type setGrantsRequest struct {
	Grants []grantSpecRequest `json:"grants" validate:"dive"`
}

type grantSpecRequest struct {
	Permission  string `json:"permission" validate:"required"`
	AccessType  string `json:"accessType" validate:"required,oneof=ALLOW DENY"`
	WorkspaceID *int64 `json:"workspaceId"`
	ProjectID   *int64 `json:"projectId"`
}

func (h *Handler) setGroupGrants(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "groupID must be an integer")
		return
	}
	var req setGrantsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	// Replacing a grant set can touch any scope, so the caller needs the
	// global admin permission.
	if !h.requireAdmin(w, r, nil, nil) {
		return
	}

	specs := make([]PermissionSpec, len(req.Grants))
	for i, g := range req.Grants {
		specs[i] = PermissionSpec{
			PermissionName: g.Permission,
			AccessType:     AccessType(g.AccessType),
			WorkspaceID:    g.WorkspaceID,
			ProjectID:      g.ProjectID,
		}
	}
	if err := h.service.SetGroupPermissions(r.Context(), groupID, specs); err != nil {
		h.logger.Error("set group permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.decisions.Invalidate(r.Context(), cacheNamespace)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listGroupGrants(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "groupID must be an integer")
		return
	}
	list, err := h.service.GrantsForGroup(r.Context(), groupID)
	if err != nil {
		h.logger.Error("list group grants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]grantResponse, 0, len(list))
	for _, g := range list {
		out = append(out, toGrantResponse(g))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type permissionResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type ensurePermissionRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) ensurePermission(w http.ResponseWriter, r *http.Request) {
	var req ensurePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.requireAdmin(w, r, nil, nil) {
		return
	}
	perm, err := h.service.EnsurePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.logger.Error("ensure permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionResponse{ID: perm.ID, Name: perm.Name, Description: perm.Description})
}

// requireAdmin enforces the admin permission for the calling user at the
// scope being mutated. Scoped mutations accept a workspace or project admin;
// scope-spanning ones pass nil ids and so demand the global grant.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, workspaceID, projectID *int64) bool {
	callerID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no authenticated user")
		return false
	}
	if err := h.service.RequirePermission(r.Context(), callerID, adminPermission, workspaceID, projectID); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func optionalID(w http.ResponseWriter, raw, field string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", field+" must be an integer")
		return nil, false
	}
	return &id, true
}

func scopeString(id *int64) string {
	if id == nil {
		return "*"
	}
	return strconv.FormatInt(*id, 10)
}

func outcomeFor(reason Reason) string {
	switch reason {
	case ReasonAllow:
		return "allow"
	case ReasonDeny:
		return "deny"
	default:
		return "not_granted"
	}
}
