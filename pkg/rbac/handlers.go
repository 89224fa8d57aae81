package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// Handlers provides HTTP handlers for role and permission administration
type Handlers struct {
	store   *Store
	checker *Checker
}

// NewHandlers creates new RBAC handlers. checker may be nil; when set its
// snapshot cache is purged after every role or permission change.
func NewHandlers(store *Store, checker *Checker) *Handlers {
	return &Handlers{store: store, checker: checker}
}

// RegisterRoleRoutes registers role routes on a router mounted at the roles prefix
func (h *Handlers) RegisterRoleRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/department", h.ListDepartments).Methods(http.MethodGet)
	router.HandleFunc("/departments", h.ListDepartments).Methods(http.MethodGet)
	router.HandleFunc("/rolesName", h.ListRoleNames).Methods(http.MethodGet)
	router.HandleFunc("/names", h.ListRoleNames).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.GetRole).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.UpdateRole).Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/{id:[0-9]+}", h.DeleteRole).Methods(http.MethodDelete)
	router.HandleFunc("/{id:[0-9]+}/permissions", h.AddRolePermissions).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/permissions", h.SetRolePermissions).Methods(http.MethodPut)
	router.HandleFunc("/{id:[0-9]+}/permissions/{permissionId:[0-9]+}", h.RemoveRolePermission).Methods(http.MethodDelete)
}

// RegisterPermissionRoutes registers permission routes on a router mounted at the permissions prefix
func (h *Handlers) RegisterPermissionRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListPermissions).Methods(http.MethodGet)
	router.HandleFunc("", h.CreatePermission).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}", h.GetPermission).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.UpdatePermission).Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/{id:[0-9]+}", h.DeletePermission).Methods(http.MethodDelete)
}

type permissionIDsRequest struct {
	PermissionIDs []int64 `json:"permissionIds"`
}

// ListRoles handles GET /roles?q=&page=&pageSize=&withPermissions=
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := parsePaging(w, r)
	if !ok {
		return
	}

	result, err := h.store.ListRoles(r.Context(), RoleFilter{
		Query:           httputil.ParseQueryString(r, "q", ""),
		Page:            page,
		PageSize:        pageSize,
		WithPermissions: queryFlag(r, "withPermissions"),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// GetRole handles GET /roles/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.LoadRoleWithPermissions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// CreateRole handles POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if !h.allowSuperuserChange(w, r, req.IsSuperuser) {
		return
	}

	role := &Role{Name: strings.TrimSpace(*req.Name)}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Department != nil {
		role.Department = *req.Department
	}
	if req.IsSuperuser != nil {
		role.IsSuperuser = *req.IsSuperuser
	}

	if err := h.store.CreateRole(r.Context(), role, req.PermissionIDs); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	created, err := h.store.LoadRoleWithPermissions(r.Context(), role.ID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, created)
}

// UpdateRole handles PUT/PATCH /roles/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req RoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			httputil.WriteBadRequest(w, "name cannot be empty")
			return
		}
		req.Name = &trimmed
	}
	if !h.allowSuperuserChange(w, r, req.IsSuperuser) {
		return
	}

	if err := h.store.UpdateRole(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.purge()

	role, err := h.store.LoadRoleWithPermissions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.purge()
	httputil.WriteNoContent(w)
}

// ListDepartments handles GET /roles/departments
func (h *Handlers) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.store.ListDepartments(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, departments)
}

// ListRoleNames handles GET /roles/names
func (h *Handlers) ListRoleNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListRoleNames(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, names)
}

// AddRolePermissions handles POST /roles/{id}/permissions
func (h *Handlers) AddRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.changeRolePermissions(w, r, h.store.AddRolePermissions)
}

// SetRolePermissions handles PUT /roles/{id}/permissions
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.changeRolePermissions(w, r, h.store.SetRolePermissions)
}

func (h *Handlers) changeRolePermissions(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, []int64) error) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req permissionIDsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionIDs == nil {
		httputil.WriteBadRequest(w, "permissionIds is required")
		return
	}

	if err := apply(r.Context(), id, req.PermissionIDs); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.purge()

	role, err := h.store.LoadRoleWithPermissions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// RemoveRolePermission handles DELETE /roles/{id}/permissions/{permissionId}
func (h *Handlers) RemoveRolePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	if err := h.store.RemoveRolePermission(r.Context(), id, permissionID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.purge()
	httputil.WriteNoContent(w)
}

// ListPermissions handles GET /permissions?q=&page=&pageSize=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := parsePaging(w, r)
	if !ok {
		return
	}

	result, err := h.store.ListPermissions(r.Context(), PermissionFilter{
		Query:    httputil.ParseQueryString(r, "q", ""),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// GetPermission handles GET /permissions/{id}
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perm, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perm)
}

// CreatePermission handles POST /permissions
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	perm := &Permission{Name: strings.TrimSpace(*req.Name)}
	if req.Description != nil {
		perm.Description = *req.Description
	}

	if err := h.store.CreatePermission(r.Context(), perm); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, perm)
}

// UpdatePermission handles PUT/PATCH /permissions/{id}
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req PermissionInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			httputil.WriteBadRequest(w, "name cannot be empty")
			return
		}
		req.Name = &trimmed
	}

	if err := h.store.UpdatePermission(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	// A rename changes which routes the permission unlocks
	h.purge()

	perm, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perm)
}

// DeletePermission handles DELETE /permissions/{id}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.purge()
	httputil.WriteNoContent(w)
}

// allowSuperuserChange keeps the superuser flag in the hands of superusers
func (h *Handlers) allowSuperuserChange(w http.ResponseWriter, r *http.Request, requested *bool) bool {
	if requested == nil || !*requested {
		return true
	}

	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, MsgUnauthorized)
		return false
	}
	role, err := h.store.GetRole(r.Context(), identity.RoleID)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		h.writeStoreError(w, r, err)
		return false
	}
	if role == nil || !role.IsSuperuser {
		httputil.WriteForbidden(w, "Forbidden: only superusers may grant superuser")
		return false
	}
	return true
}

func (h *Handlers) purge() {
	if h.checker != nil {
		h.checker.Purge()
	}
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFound(w, "Role not found")
	case errors.Is(err, ErrPermissionNotFound):
		httputil.WriteNotFound(w, "Permission not found")
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, "Name already exists")
	case errors.Is(err, ErrRoleInUse):
		httputil.WriteConflict(w, "Role is assigned to users")
	case errors.Is(err, ErrUnknownPermission):
		httputil.WriteBadRequest(w, "Unknown permission id")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("rbac store operation failed")
		httputil.WriteInternalError(w, "")
	}
}

func parsePaging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}
	pageSize, err := httputil.ParseQueryInt(r, "pageSize", defaultPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}
	return page, pageSize, true
}

// queryFlag reads a boolean query parameter; 1, t and true (any case) are set
func queryFlag(r *http.Request, key string) bool {
	set, err := strconv.ParseBool(httputil.ParseQueryString(r, key, "false"))
	return err == nil && set
}
