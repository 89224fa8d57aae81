package rbac

import (
	"net/http"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// Response messages of the authorization gate
const (
	MsgUnauthorized       = "Unauthorized"
	MsgInactiveUser       = "Forbidden: inactive user"
	MsgNoRole             = "Forbidden: no role assigned"
	MsgMissingAny         = "Forbidden: missing at least one required permission"
	MsgMissingAll         = "Forbidden: missing required permissions"
	MsgPermissionCheckErr = "Permission check failed"
)

// Authorizer builds authorization gates backed by a Checker
type Authorizer struct {
	checker *Checker
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(checker *Checker) *Authorizer {
	return &Authorizer{checker: checker}
}

// Require returns middleware that admits the request only if the identity's
// current role satisfies the required permissions in the given mode.
// It must run after the authentication gate.
func (a *Authorizer) Require(mode Mode, required ...string) func(http.Handler) http.Handler {
	if mode != ModeAll {
		mode = ModeAny
	}
	required = append([]string(nil), required...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				httputil.WriteUnauthorized(w, MsgUnauthorized)
				return
			}

			decision, err := a.checker.Check(r.Context(), identity.UserID, required, mode)
			if err != nil {
				observability.FromContext(r.Context()).
					WithError(err).
					WithField("user_id", identity.UserID).
					Error("permission check failed")
				httputil.WriteInternalError(w, MsgPermissionCheckErr)
				return
			}

			if !decision.Allowed {
				writeDenial(w, mode, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny admits callers holding at least one of the permissions
func (a *Authorizer) RequireAny(required ...string) func(http.Handler) http.Handler {
	return a.Require(ModeAny, required...)
}

// RequireAll admits callers holding every one of the permissions
func (a *Authorizer) RequireAll(required ...string) func(http.Handler) http.Handler {
	return a.Require(ModeAll, required...)
}

func writeDenial(w http.ResponseWriter, mode Mode, decision Decision) {
	switch decision.Reason {
	case ReasonUnknownUser:
		httputil.WriteUnauthorized(w, MsgUnauthorized)
	case ReasonInactiveUser:
		httputil.WriteForbidden(w, MsgInactiveUser)
	case ReasonNoRoleAssigned:
		httputil.WriteForbidden(w, MsgNoRole)
	default:
		if mode == ModeAll {
			httputil.WriteForbiddenMissing(w, MsgMissingAll, decision.Missing)
			return
		}
		httputil.WriteForbidden(w, MsgMissingAny)
	}
}
