package acl

import (
	"fmt"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kanbu-pm/kanbu/internal/hierarchy"
	"github.com/kanbu-pm/kanbu/internal/observability"
	"github.com/kanbu-pm/kanbu/internal/platform/cache"
	"github.com/kanbu-pm/kanbu/internal/platform/httpx"
	"github.com/kanbu-pm/kanbu/internal/shared"
)

const cacheNamespace = cache.NamespaceACL

// Handler exposes the bitmask ACL resolver over HTTP.
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

// MountRoutes registers ACL routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Get("/entries", h.entries)
	r.Post("/entries", h.upsertEntry)
	r.Delete("/entries", h.revoke)
}

type entryResponse struct {
	ID                string `json:"id"`
	ResourceType      string `json:"resourceType"`
	ResourceID        *int64 `json:"resourceId"`
	PrincipalType     string `json:"principalType"`
	PrincipalID       int64  `json:"principalId"`
	Permissions       uint32 `json:"permissions"`
	Deny              bool   `json:"deny"`
	Inherited         bool   `json:"inherited"`
	InheritToChildren bool   `json:"inheritToChildren"`
}

type checkResponse struct {
	Allowed              bool            `json:"allowed"`
	EffectivePermissions uint32          `json:"effectivePermissions"`
	DeniedPermissions    uint32          `json:"deniedPermissions"`
	MatchedEntries       []entryResponse `json:"matchedEntries"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:                e.ID.String(),
		ResourceType:      string(e.ResourceType),
		ResourceID:        e.ResourceID,
		PrincipalType:     string(e.PrincipalType),
		PrincipalID:       e.PrincipalID,
		Permissions:       uint32(e.Permissions),
		Deny:              e.Deny,
		Inherited:         e.Inherited,
		InheritToChildren: e.InheritToChildren,
	}
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId must be an integer")
		return
	}
	resourceType, resourceID, ok := resourceFromQuery(w, r)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("%d:%s:%s", userID, resourceType, idString(resourceID))
	var resp checkResponse
	if h.decisions.Get(r.Context(), cacheNamespace, cacheKey, &resp) {
		httpx.JSON(w, http.StatusOK, resp)
		return
	}

	result, err := h.service.CheckPermission(r.Context(), userID, resourceType, resourceID)
	if err != nil {
		h.logger.Error("acl check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveDecision("acl", decisionOutcome(result))

	resp = checkResponse{
		Allowed:              result.Allowed,
		EffectivePermissions: uint32(result.Effective),
		DeniedPermissions:    uint32(result.Denied),
		MatchedEntries:       make([]entryResponse, 0, len(result.Matched)),
	}
	for _, e := range result.Matched {
		resp.MatchedEntries = append(resp.MatchedEntries, toEntryResponse(e))
	}
	h.decisions.Set(r.Context(), cacheNamespace, cacheKey, resp)
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, ok := resourceFromQuery(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Entries(r.Context(), resourceType, resourceID)
	if err != nil {
		h.logger.Error("acl list entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type upsertEntryRequest struct {
	ResourceType      string `json:"resourceType" validate:"required"`
	ResourceID        *int64 `json:"resourceId"`
	PrincipalType     string `json:"principalType" validate:"required,oneof=user group"`
	PrincipalID       int64  `json:"principalId" validate:"required"`
	Permissions       uint32 `json:"permissions" validate:"required"`
	Deny              bool   `json:"deny"`
	InheritToChildren bool   `json:"inheritToChildren"`
}

func (h *Handler) upsertEntry(w http.ResponseWriter, r *http.Request) {
	var req upsertEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.requireManager(w, r, hierarchy.ResourceType(req.ResourceType), req.ResourceID) {
		return
	}

	params := GrantParams{
		ResourceType:      hierarchy.ResourceType(req.ResourceType),
		ResourceID:        req.ResourceID,
		PrincipalType:     PrincipalType(req.PrincipalType),
		PrincipalID:       req.PrincipalID,
		Permissions:       Permission(req.Permissions),
		InheritToChildren: req.InheritToChildren,
	}
	var (
		entry Entry
		err   error
	)
	if req.Deny {
		entry, err = h.service.Deny(r.Context(), params)
	} else {
		entry, err = h.service.Grant(r.Context(), params)
	}
	if err != nil {
		h.logger.Error("acl upsert entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.decisions.Invalidate(r.Context(), cacheNamespace)
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

type revokeRequest struct {
	ResourceType  string `json:"resourceType" validate:"required"`
	ResourceID    *int64 `json:"resourceId"`
	PrincipalType string `json:"principalType" validate:"required,oneof=user group"`
	PrincipalID   int64  `json:"principalId" validate:"required"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.requireManager(w, r, hierarchy.ResourceType(req.ResourceType), req.ResourceID) {
		return
	}

	err := h.service.Revoke(r.Context(), hierarchy.ResourceType(req.ResourceType), req.ResourceID, PrincipalType(req.PrincipalType), req.PrincipalID)
	if err != nil {
		h.logger.Error("acl revoke", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.decisions.Invalidate(r.Context(), cacheNamespace)
	w.WriteHeader(http.StatusNoContent)
}

// requireManager enforces the manage-permissions bit for the calling user on
// the resource being mutated.
func (h *Handler) requireManager(w http.ResponseWriter, r *http.Request, resourceType hierarchy.ResourceType, resourceID *int64) bool {
	callerID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no authenticated user")
		return false
	}
	if err := h.service.RequirePermissionsManagement(r.Context(), callerID, resourceType, resourceID); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func resourceFromQuery(w http.ResponseWriter, r *http.Request) (hierarchy.ResourceType, *int64, bool) {
	resourceType := hierarchy.ResourceType(r.URL.Query().Get("resourceType"))
	if !resourceType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown resourceType")
		return "", nil, false
	}
	var resourceID *int64
	if raw := r.URL.Query().Get("resourceId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "resourceId must be an integer")
			return "", nil, false
		}
		resourceID = &id
	}
	return resourceType, resourceID, true
}

func decisionOutcome(result CheckResult) string {
	switch {
	case result.Denied != 0:
		return "deny"
	case result.Allowed:
		return "allow"
	default:
		return "not_granted"
	}
}

func idString(id *int64) string {
	if id == nil {
		return "*"
	}
	return strconv.FormatInt(*id, 10)
}
