package users

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/httputil"
)

type recordingInvalidator struct {
	ids []int64
}

func (r *recordingInvalidator) Invalidate(userID int64) {
	r.ids = append(r.ids, userID)
}

// withIdentity stands in for the authentication gate
func withIdentity(identity *auth.Identity) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type handlerFixture struct {
	*serviceFixture
	router      *mux.Router
	invalidator *recordingInvalidator
}

func newHandlerFixture(t *testing.T, origin string, identity *auth.Identity) *handlerFixture {
	t.Helper()
	f := newServiceFixture(t)
	invalidator := &recordingInvalidator{}
	h := NewHandlers(f.service, CookieConfig{AppOrigin: origin}, invalidator)

	router := mux.NewRouter()
	h.RegisterAuthRoutes(router.PathPrefix("/api/auth").Subrouter(), AuthMiddleware{Authenticate: withIdentity(identity)})

	me := router.PathPrefix("/api/me").Subrouter()
	me.Use(withIdentity(identity))
	h.RegisterSelfRoutes(me)

	admin := router.PathPrefix("/api/users").Subrouter()
	admin.Use(withIdentity(identity))
	h.RegisterAdminRoutes(admin)

	return &handlerFixture{serviceFixture: f, router: router, invalidator: invalidator}
}

func (f *handlerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func messageOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Message
}

func sessionCookieOf(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	return nil
}

func TestHandlers_Login(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantSite   http.SameSite
		wantSecure bool
	}{
		{"localhost frontend", "http://localhost:5173,https://hrm.example.com", http.SameSiteLaxMode, false},
		{"remote frontend", "https://hrm.example.com", http.SameSiteNoneMode, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, tt.origin, nil)
			u := testUser(5)
			u.PasswordHash = hashed(t, "correct-horse")
			f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(userRows(u))
			f.mock.ExpectExec("UPDATE users SET last_login_at").WillReturnResult(sqlmock.NewResult(0, 1))

			w := f.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@example.com", "password": "correct-horse"})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp loginResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Login successful", resp.Message)
			assert.NotEmpty(t, resp.Token)
			assert.Equal(t, int64(5), resp.User.ID)
			assert.Equal(t, "Ana Lima", resp.User.FullName)
			assert.Len(t, resp.User.PermissionNames, 2)

			cookie := sessionCookieOf(w)
			require.NotNil(t, cookie)
			assert.Equal(t, resp.Token, cookie.Value)
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, "/", cookie.Path)
			assert.Equal(t, 86400, cookie.MaxAge)
			assert.Equal(t, tt.wantSite, cookie.SameSite)
			assert.Equal(t, tt.wantSecure, cookie.Secure)
		})
	}
}

func TestHandlers_LoginInvalidCredentials(t *testing.T) {
	f := newHandlerFixture(t, "", nil)
	f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(sqlmock.NewRows(userRowColumns))

	w := f.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ghost@example.com", "password": "whatever1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", messageOf(t, w))
	assert.Nil(t, sessionCookieOf(w))
}

func TestHandlers_Logout(t *testing.T) {
	f := newHandlerFixture(t, "http://localhost:3000", nil)

	w := f.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookieOf(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestHandlers_ForgotPasswordUnknownEmail(t *testing.T) {
	f := newHandlerFixture(t, "", nil)
	f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(sqlmock.NewRows(userRowColumns))

	w := f.do(http.MethodPost, "/api/auth/forgotPassword", map[string]string{"email": "Ghost@Example.com"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ghost@example.com", resp["email"])
	assert.NotEmpty(t, resp["message"])
}

func TestHandlers_ResetPasswordInvalidOTP(t *testing.T) {
	f := newHandlerFixture(t, "", nil)
	f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(userRows(testUser(5)))

	w := f.do(http.MethodPatch, "/api/auth/resetPassword", map[string]string{
		"email": "ana@example.com", "otp": "000000", "password": "new-password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired OTP", messageOf(t, w))
}

func TestHandlers_ResetPasswordTooManyAttempts(t *testing.T) {
	f := newHandlerFixture(t, "", nil)
	f.service.resets = &countingLimiter{limit: 0}

	w := f.do(http.MethodPatch, "/api/auth/resetPassword", map[string]string{
		"email": "ana@example.com", "otpCode": "000000", "newPassword": "new-password",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_ResetPasswordFieldNames(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"otpCode and newPassword", map[string]string{"email": "ana@example.com", "otpCode": "000000", "newPassword": "new-password"}},
		{"otp and password", map[string]string{"email": "ana@example.com", "otp": "000000", "password": "new-password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, "", nil)
			f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(userRows(testUser(5)))

			w := f.do(http.MethodPatch, "/api/auth/resetPassword", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			// Reaching the OTP check means every field was read
			assert.Equal(t, "Invalid or expired OTP", messageOf(t, w))
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}

	f := newHandlerFixture(t, "", nil)
	w := f.do(http.MethodPatch, "/api/auth/resetPassword", map[string]string{"email": "ana@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email, otpCode and newPassword are required", messageOf(t, w))
}

func TestHandlers_ActivateFieldNames(t *testing.T) {
	for _, field := range []string{"newPassword", "password"} {
		t.Run(field, func(t *testing.T) {
			f := newHandlerFixture(t, "", nil)
			f.mock.ExpectQuery("FROM users WHERE invite_token").
				WithArgs("abc", fixedNow).
				WillReturnRows(userRows(testUser(9)))
			f.mock.ExpectExec("UPDATE users SET password_hash = \\$2, is_verified = true").
				WithArgs(int64(9), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			w := f.do(http.MethodPost, "/api/auth/activate", map[string]string{"token": "abc", field: "new-password"})
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "Account activated", messageOf(t, w))
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestHandlers_ChangePasswordNeedsIdentity(t *testing.T) {
	f := newHandlerFixture(t, "", nil)

	w := f.do(http.MethodPatch, "/api/auth/changePassword", map[string]string{
		"oldPassword": "a", "newPassword": "b", "confirmPassword": "b",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_VerifyBadToken(t *testing.T) {
	f := newHandlerFixture(t, "", nil)

	w := f.do(http.MethodGet, "/api/auth/verify?token=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired token", messageOf(t, w))
}

func TestHandlers_GetSelf(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 5, RoleID: 2})
	f.mock.ExpectQuery("FROM users WHERE id").WithArgs(int64(5)).WillReturnRows(userRows(testUser(5)))

	w := f.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ana@example.com", resp["email"])
	assert.NotContains(t, resp, "password_hash")
	assert.Equal(t, "HR Manager", resp["role"].(map[string]interface{})["name"])
}

func TestHandlers_GetUserNotFound(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 1, RoleID: 1})
	f.mock.ExpectQuery("FROM users WHERE id").WithArgs(int64(404)).WillReturnRows(sqlmock.NewRows(userRowColumns))

	w := f.do(http.MethodGet, "/api/users/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", messageOf(t, w))
}

func TestHandlers_CreateUserSuperuserRoleNeedsSuperuser(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 2, RoleID: 2})

	w := f.do(http.MethodPost, "/api/users", map[string]interface{}{
		"name": "Eve Admin", "email": "eve@example.com", "roleId": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_CreateUserUnknownRole(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 1, RoleID: 1})

	w := f.do(http.MethodPost, "/api/users", map[string]interface{}{
		"name": "Eve", "email": "eve@example.com", "roleId": 77,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Role does not exist", messageOf(t, w))
}

func TestHandlers_CreateUser(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 2, RoleID: 2})
	expectInsert(f.mock, true, 30)

	w := f.do(http.MethodPost, "/api/users", map[string]interface{}{
		"name": "Carla Dias", "email": "carla@example.com", "roleId": 3, "sendInvite": false,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(30), resp.ID)
	assert.NotEmpty(t, resp.TempPassword)
}

func TestHandlers_AssignRoleByName(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 2, RoleID: 2})
	f.mock.ExpectExec("UPDATE users SET role_id = \\$2").
		WithArgs(int64(8), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery("FROM users WHERE id").WithArgs(int64(8)).WillReturnRows(userRows(testUser(8)))

	w := f.do(http.MethodPost, "/api/users/8/role", map[string]string{"roleName": "Employee"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []int64{8}, f.invalidator.ids)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_AssignRoleMissingRole(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 2, RoleID: 2})

	w := f.do(http.MethodPost, "/api/users/8/role", map[string]string{"roleName": "Nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Role not found", messageOf(t, w))

	w = f.do(http.MethodPost, "/api/users/8/role", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.invalidator.ids)
}

func TestHandlers_SetVerified(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 1, RoleID: 1})

	w := f.do(http.MethodPatch, "/api/users/8/verify", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.mock.ExpectExec("UPDATE users SET is_verified").
		WithArgs(int64(8), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	w = f.do(http.MethodPatch, "/api/users/8/verify", map[string]interface{}{"isVerified": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_ListUsers(t *testing.T) {
	f := newHandlerFixture(t, "", &auth.Identity{UserID: 1, RoleID: 1})
	f.mock.ExpectQuery("SELECT COUNT").WithArgs(auth.StatusInactive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	f.mock.ExpectQuery("ORDER BY created_at DESC").
		WillReturnRows(userRows(testUser(3)))

	w := f.do(http.MethodGet, "/api/users?status=inactive&page=1&pageSize=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var page Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 5, page.Pagination.PageSize)

	w = f.do(http.MethodGet, "/api/users?status=banned", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/users?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
