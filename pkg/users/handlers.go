package users

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/rbac"
)

// DefaultCookieName is the session cookie set on login
const DefaultCookieName = "token"

var localOrigin = regexp.MustCompile(`^https?://localhost(:\d+)?$`)

// Invalidator drops cached authorization snapshots of a user
type Invalidator interface {
	Invalidate(userID int64)
}

// CookieConfig controls the session cookie
type CookieConfig struct {
	Name string
	// AppOrigin decides the SameSite mode: Lax for a localhost frontend,
	// None with Secure otherwise
	AppOrigin string
	MaxAge    time.Duration
}

// Handlers provides the HTTP handlers for account flows, the self profile and user administration
type Handlers struct {
	service     *Service
	cookie      CookieConfig
	invalidator Invalidator
}

// NewHandlers creates user handlers. invalidator may be nil.
func NewHandlers(service *Service, cookie CookieConfig, invalidator Invalidator) *Handlers {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = auth.DefaultSessionTTL
	}
	return &Handlers{service: service, cookie: cookie, invalidator: invalidator}
}

// AuthMiddleware holds the middleware applied to individual account routes. Nil entries are skipped.
type AuthMiddleware struct {
	Authenticate mux.MiddlewareFunc
	LoginLimit   mux.MiddlewareFunc
	ForgotLimit  mux.MiddlewareFunc
	ResetLimit   mux.MiddlewareFunc
}

func wrap(mw mux.MiddlewareFunc, h http.HandlerFunc) http.Handler {
	if mw == nil {
		return h
	}
	return mw(h)
}

// RegisterAuthRoutes registers the account routes on a router mounted at the auth prefix
func (h *Handlers) RegisterAuthRoutes(router *mux.Router, mw AuthMiddleware) {
	router.Handle("/login", wrap(mw.LoginLimit, h.Login)).Methods(http.MethodPost)
	router.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	router.Handle("/forgotPassword", wrap(mw.ForgotLimit, h.ForgotPassword)).Methods(http.MethodPost)
	router.Handle("/resetPassword", wrap(mw.ResetLimit, h.ResetPassword)).Methods(http.MethodPatch)
	router.Handle("/changePassword", wrap(mw.Authenticate, h.ChangePassword)).Methods(http.MethodPatch)
	router.HandleFunc("/sendVerify", h.SendVerify).Methods(http.MethodPost)
	router.HandleFunc("/verify", h.Verify).Methods(http.MethodGet)
	router.HandleFunc("/activate", h.Activate).Methods(http.MethodPost)
}

// RegisterSelfRoutes registers the profile routes on a router mounted at the self prefix
func (h *Handlers) RegisterSelfRoutes(router *mux.Router) {
	router.HandleFunc("", h.GetSelf).Methods(http.MethodGet)
	router.HandleFunc("", h.UpdateSelf).Methods(http.MethodPatch)
}

// RegisterAdminRoutes registers user administration on a router mounted at the users prefix
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListUsers).Methods(http.MethodGet)
	router.HandleFunc("", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.UpdateUser).Methods(http.MethodPatch)
	router.HandleFunc("/{id:[0-9]+}/role", h.AssignRole).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/resend-invite", h.ResendInvite).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/reset-password", h.ResendInvite).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/verify", h.SetVerified).Methods(http.MethodPatch)
}

func (h *Handlers) sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	}
	if localOrigin.MatchString(firstOrigin(h.cookie.AppOrigin)) {
		c.SameSite = http.SameSiteLaxMode
		c.Secure = false
	}
	return c
}

type loginUser struct {
	ID              int64    `json:"id"`
	Email           string   `json:"email"`
	FullName        string   `json:"full_name"`
	PermissionNames []string `json:"permissionNames"`
}

type loginResponse struct {
	Message string    `json:"message"`
	Token   string    `json:"token"`
	User    loginUser `json:"user"`
}

// Login handles POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		httputil.WriteUnauthorized(w, "Invalid email or password")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(result.Token, int(h.cookie.MaxAge.Seconds())))
	_ = httputil.WriteSuccess(w, loginResponse{
		Message: "Login successful",
		Token:   result.Token,
		User: loginUser{
			ID:              result.User.ID,
			Email:           result.User.Email,
			FullName:        result.User.Name,
			PermissionNames: result.PermissionNames,
		},
	})
}

// Logout handles POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	httputil.WriteMessage(w, http.StatusOK, "Logged out")
}

// ForgotPassword handles POST /auth/forgotPassword
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]string{
		"message": "If the email exists, a verification code has been sent",
		"email":   auth.NormalizeEmail(req.Email),
	})
}

// ResetPassword handles PATCH /auth/resetPassword
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		OTPCode     string `json:"otpCode"`
		NewPassword string `json:"newPassword"`
		// Older clients send otp and password
		OTP      string `json:"otp"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	otp := firstNonEmpty(req.OTPCode, req.OTP)
	password := firstNonEmpty(req.NewPassword, req.Password)
	if err := h.service.ResetPassword(r.Context(), req.Email, otp, password); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Password has been reset")
}

// ChangePassword handles PATCH /auth/changePassword
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "Unauthenticated")
		return
	}

	var req struct {
		OldPassword     string `json:"oldPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), identity.UserID, req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Password changed")
}

// SendVerify handles POST /auth/sendVerify
func (h *Handlers) SendVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.SendVerify(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Verification email sent")
}

// Verify handles GET /auth/verify?token=
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Verify(r.Context(), httputil.ParseQueryString(r, "token", "")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Email verified")
}

// Activate handles POST /auth/activate
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
		Password    string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	password := firstNonEmpty(req.NewPassword, req.Password)
	if err := h.service.ActivateByInvite(r.Context(), req.Token, password); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Account activated")
}

// GetSelf handles GET /me
func (h *Handlers) GetSelf(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "Unauthenticated")
		return
	}

	detail, err := h.service.GetUser(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, detail)
}

// UpdateSelf handles PATCH /me
func (h *Handlers) UpdateSelf(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "Unauthenticated")
		return
	}

	var req ProfileInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	detail, err := h.service.UpdateSelf(r.Context(), identity.UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, detail)
}

// ListUsers handles GET /users?q=&status=&roleId=&page=&pageSize=
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Query:  httputil.ParseQueryString(r, "q", ""),
		Status: auth.UserStatus(httputil.ParseQueryString(r, "status", "")),
	}
	var err error
	if filter.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.PageSize, err = httputil.ParseQueryInt(r, "pageSize", defaultPageSize); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	roleID, err := httputil.ParseQueryInt(r, "roleId", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.RoleID = int64(roleID)

	page, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// GetUser handles GET /users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, detail)
}

// CreateUser handles POST /users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID > 0 && !h.allowRoleGrant(w, r, req.RoleID) {
		return
	}

	result, err := h.service.CreateUser(r.Context(), req)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		httputil.WriteBadRequest(w, "Role does not exist")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, result)
}

// UpdateUser handles PATCH /users/{id}
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID != nil && !h.allowRoleGrant(w, r, *req.RoleID) {
		return
	}

	detail, err := h.service.UpdateUser(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidate(id)
	_ = httputil.WriteSuccess(w, detail)
}

// AssignRole handles POST /users/{id}/role with a roleId or a roleName
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleID   int64  `json:"roleId"`
		RoleName string `json:"roleName"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.ResolveRole(r.Context(), req.RoleID, req.RoleName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.allowRoleGrant(w, r, role.ID) {
		return
	}
	if err := h.service.AssignRole(r.Context(), id, role.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidate(id)

	detail, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, detail)
}

// ResendInvite handles POST /users/{id}/resend-invite and its reset-password alias
func (h *Handlers) ResendInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.ResendInvite(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Invite sent")
}

// SetVerified handles PATCH /users/{id}/verify
func (h *Handlers) SetVerified(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		IsVerified *bool `json:"isVerified"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsVerified == nil {
		httputil.WriteBadRequest(w, "isVerified is required")
		return
	}

	if err := h.service.SetVerified(r.Context(), id, *req.IsVerified); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"id": id, "isVerified": *req.IsVerified})
}

// allowRoleGrant keeps superuser roles in the hands of superusers
func (h *Handlers) allowRoleGrant(w http.ResponseWriter, r *http.Request, roleID int64) bool {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return false
	}
	ok, err := h.service.CanGrantRole(r.Context(), identity.RoleID, roleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		httputil.WriteBadRequest(w, "Role does not exist")
		return false
	}
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	if !ok {
		httputil.WriteForbidden(w, "Forbidden: only superusers may grant a superuser role")
		return false
	}
	return true
}

func (h *Handlers) invalidate(userID int64) {
	if h.invalidator != nil {
		h.invalidator.Invalidate(userID)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		httputil.WriteBadRequest(w, validation.Message)
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, "User not found")
	case errors.Is(err, rbac.ErrRoleNotFound):
		httputil.WriteNotFound(w, "Role not found")
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteConflict(w, "Email already in use")
	case errors.Is(err, ErrOldPasswordMismatch):
		httputil.WriteBadRequest(w, "Old password is incorrect")
	case errors.Is(err, ErrInvalidOTP):
		httputil.WriteBadRequest(w, "Invalid or expired OTP")
	case errors.Is(err, ErrTooManyAttempts):
		httputil.WriteTooManyRequests(w, "Too many attempts, please request a new code")
	case errors.Is(err, ErrInvalidVerification):
		httputil.WriteBadRequest(w, "Invalid or expired token")
	case errors.Is(err, ErrInvalidInvite):
		httputil.WriteBadRequest(w, "Invalid or expired invite")
	case errors.Is(err, ErrAlreadyVerified):
		httputil.WriteBadRequest(w, "User is already verified")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("user operation failed")
		httputil.WriteInternalError(w, "")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
