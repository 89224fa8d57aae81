package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/audit"
	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/mail"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/rbac"
)

const (
	// DefaultOTPTTL is how long a password reset code stays valid
	DefaultOTPTTL = 3 * time.Minute
	// DefaultInviteTTL is how long an invite link stays valid
	DefaultInviteTTL = 60 * time.Minute
	// otpGrace tolerates clock skew and slow mail delivery on reset codes
	otpGrace = 30 * time.Second
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// RoleDirectory resolves roles for the account flows
type RoleDirectory interface {
	GetRole(ctx context.Context, roleID int64) (*rbac.Role, error)
	GetRoleByName(ctx context.Context, name string) (*rbac.Role, error)
	LoadRoleWithPermissions(ctx context.Context, roleID int64) (*rbac.Role, error)
}

// TokenService issues and verifies session and verification tokens
type TokenService interface {
	IssueSession(userID int64) (string, error)
	IssueVerification(userID int64) (string, error)
	VerifyVerification(token string) (*auth.Claims, error)
	SessionTTL() time.Duration
	VerificationTTL() time.Duration
}

// AttemptLimiter bounds repeated attempts against one key
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds the settings of the account flows
type Config struct {
	// AppOrigin is the frontend base URL used in invite links
	AppOrigin string
	// VerifyURL is the absolute URL of the email verification endpoint
	VerifyURL string
	OTPTTL    time.Duration
	InviteTTL time.Duration
}

// Service implements login, password recovery, verification and account administration
type Service struct {
	store  *Store
	roles  RoleDirectory
	tokens TokenService
	mailer mail.Mailer
	config Config
	now    func() time.Time
	logins *prometheus.CounterVec
	audit  audit.Logger
	resets AttemptLimiter
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLoginCounter counts login attempts labeled by result
func WithLoginCounter(counter *prometheus.CounterVec) Option {
	return func(s *Service) {
		s.logins = counter
	}
}

// WithAuditLogger records credential events on the audit trail
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithResetAttemptLimiter caps reset code guesses per email address
func WithResetAttemptLimiter(limiter AttemptLimiter) Option {
	return func(s *Service) {
		s.resets = limiter
	}
}

// NewService creates the account service
func NewService(store *Store, roles RoleDirectory, tokens TokenService, mailer mail.Mailer, config Config, opts ...Option) *Service {
	if config.OTPTTL <= 0 {
		config.OTPTTL = DefaultOTPTTL
	}
	if config.InviteTTL <= 0 {
		config.InviteTTL = DefaultInviteTTL
	}
	config.AppOrigin = strings.TrimRight(firstOrigin(config.AppOrigin), "/")

	s := &Service{
		store:  store,
		roles:  roles,
		tokens: tokens,
		mailer: mailer,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// firstOrigin returns the first entry of a comma separated origin list
func firstOrigin(origins string) string {
	first, _, _ := strings.Cut(origins, ",")
	return strings.TrimSpace(first)
}

// record emits a credential event about a user account
func (s *Service) record(ctx context.Context, eventType audit.EventType, status audit.EventStatus, userID int64, metadata map[string]interface{}) {
	event := &audit.Event{
		EventType:    eventType,
		Status:       status,
		ResourceType: audit.ResourceTypeUser,
		Metadata:     metadata,
	}
	if userID > 0 {
		event.ResourceID = strconv.FormatInt(userID, 10)
		event.ActorID = &userID
	}
	audit.Emit(ctx, s.audit, event)
}

func (s *Service) countLogin(result string) {
	if s.logins != nil {
		s.logins.WithLabelValues(result).Inc()
	}
}

// Login checks credentials and issues a session token
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}

	user, err := s.store.FindActiveByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.countLogin("invalid")
		s.record(ctx, audit.EventTypeLoginFailed, audit.EventStatusFailure, 0, map[string]interface{}{"email": email})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.countLogin("error")
		return nil, err
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.countLogin("invalid")
			s.record(ctx, audit.EventTypeLoginFailed, audit.EventStatusFailure, user.ID, map[string]interface{}{"email": email})
			return nil, ErrInvalidCredentials
		}
		s.countLogin("error")
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.countLogin("error")
		return nil, err
	}
	user.LastLoginAt = &now

	names, err := s.permissionNames(ctx, user.RoleID)
	if err != nil {
		s.countLogin("error")
		return nil, err
	}

	token, err := s.tokens.IssueSession(user.ID)
	if err != nil {
		s.countLogin("error")
		return nil, err
	}

	s.countLogin("success")
	s.record(ctx, audit.EventTypeLogin, audit.EventStatusSuccess, user.ID, nil)
	return &LoginResult{
		Token:           token,
		ExpiresAt:       now.Add(s.tokens.SessionTTL()),
		User:            user,
		PermissionNames: names,
	}, nil
}

func (s *Service) permissionNames(ctx context.Context, roleID int64) ([]string, error) {
	role, err := s.roles.LoadRoleWithPermissions(ctx, roleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return role.PermissionNames(), nil
}

// ForgotPassword mails a reset code to an active account. The result never
// reveals whether the email exists, and mail failures are only logged.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return invalid("email is required")
	}

	user, err := s.store.FindActiveByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	if user.OTPCode != nil && user.OTPExpires != nil && user.OTPExpires.After(now) {
		// A code is already in flight
		return nil
	}

	code, err := auth.GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.store.SetOTP(ctx, user.ID, code, now.Add(s.config.OTPTTL).UTC()); err != nil {
		return err
	}

	msg, err := mail.OTPMessage(user.Email, code, formatTTL(s.config.OTPTTL))
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("user_id", user.ID).
			Error("failed to send password reset mail")
	}
	return nil
}

// ResetPassword sets a new password using a mailed reset code
func (s *Service) ResetPassword(ctx context.Context, email, otp, password string) error {
	email = auth.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" || password == "" {
		return invalid("email, otpCode and newPassword are required")
	}
	if err := auth.ValidateNewPassword(password); err != nil {
		return invalid(err.Error())
	}
	if s.resets != nil {
		allowed, err := s.resets.Allow(ctx, "reset_email:"+email)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("reset attempt limiter unavailable")
		}
		if !allowed {
			s.record(ctx, audit.EventTypePasswordReset, audit.EventStatusFailure, 0, map[string]interface{}{"email": email, "reason": "too_many_attempts"})
			return ErrTooManyAttempts
		}
	}

	user, err := s.store.FindActiveByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOTP
	}
	if err != nil {
		return err
	}
	if user.OTPCode == nil || user.OTPExpires == nil {
		return ErrInvalidOTP
	}
	if s.now().After(user.OTPExpires.Add(otpGrace)) {
		return ErrInvalidOTP
	}
	if !auth.CompareOTP(*user.OTPCode, otp) {
		return ErrInvalidOTP
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypePasswordReset, audit.EventStatusSuccess, user.ID, nil)
	return nil
}

// ChangePassword replaces the password of a signed-in user
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword, confirm string) error {
	if oldPassword == "" || newPassword == "" || confirm == "" {
		return invalid("oldPassword, newPassword and confirmPassword are required")
	}
	if newPassword != confirm {
		return invalid("passwords do not match")
	}
	if err := auth.ValidateNewPassword(newPassword); err != nil {
		return invalid(err.Error())
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.record(ctx, audit.EventTypePasswordChange, audit.EventStatusFailure, user.ID, nil)
			return ErrOldPasswordMismatch
		}
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypePasswordChange, audit.EventStatusSuccess, user.ID, nil)
	return nil
}

// SendVerify mails an email verification link
func (s *Service) SendVerify(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return invalid("email is required")
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := s.tokens.IssueVerification(user.ID)
	if err != nil {
		return err
	}

	msg, err := mail.VerifyMessage(user.Email, s.config.VerifyURL+"?token="+url.QueryEscape(token), formatTTL(s.tokens.VerificationTTL()))
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send verification mail: %w", err)
	}
	return nil
}

// Verify marks the token's subject as verified
func (s *Service) Verify(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidVerification
	}
	claims, err := s.tokens.VerifyVerification(token)
	if err != nil {
		return ErrInvalidVerification
	}
	userID, err := claims.UserID()
	if err != nil {
		return ErrInvalidVerification
	}

	err = s.store.SetVerified(ctx, userID, true)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidVerification
	}
	if err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeEmailVerify, audit.EventStatusSuccess, userID, nil)
	return nil
}

// ActivateByInvite sets the first password of an invited account
func (s *Service) ActivateByInvite(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return invalid("token and newPassword are required")
	}
	if err := auth.ValidateNewPassword(password); err != nil {
		return invalid(err.Error())
	}

	user, err := s.store.FindByInviteToken(ctx, token, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidInvite
	}
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.ActivateInvite(ctx, user.ID, hash); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeInviteActivate, audit.EventStatusSuccess, user.ID, nil)
	return nil
}

func validateName(name string) error {
	if len([]rune(strings.TrimSpace(name))) < 2 {
		return invalid("name must be at least 2 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return invalid("invalid email")
	}
	return nil
}

// CanGrantRole reports whether a caller holding callerRoleID may hand out
// roleID. Superuser roles can only be granted by superusers.
func (s *Service) CanGrantRole(ctx context.Context, callerRoleID, roleID int64) (bool, error) {
	target, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	if !target.IsSuperuser {
		return true, nil
	}
	caller, err := s.roles.GetRole(ctx, callerRoleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return caller.IsSuperuser, nil
}

// CreateUser creates an account and either mails an invite or returns a
// one-time temporary password
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (*CreateResult, error) {
	email := auth.NormalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if input.RoleID <= 0 {
		return nil, invalid("roleId is required")
	}
	if _, err := s.roles.GetRole(ctx, input.RoleID); err != nil {
		return nil, err
	}

	password := ""
	if input.InitialPassword != nil && *input.InitialPassword != "" {
		password = *input.InitialPassword
		if err := auth.ValidateNewPassword(password); err != nil {
			return nil, invalid(err.Error())
		}
	} else {
		generated, err := auth.GenerateTempPassword()
		if err != nil {
			return nil, err
		}
		password = generated
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	sendInvite := input.SendInvite == nil || *input.SendInvite
	user := &auth.User{
		Name:               name,
		Email:              email,
		PasswordHash:       hash,
		Status:             auth.StatusActive,
		RoleID:             input.RoleID,
		IsVerified:         !sendInvite,
		MustChangePassword: true,
	}
	if sendInvite {
		token := auth.NewInviteToken()
		expires := s.now().Add(s.config.InviteTTL).UTC()
		user.InviteToken = &token
		user.InviteExpires = &expires
	}

	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	result := &CreateResult{ID: user.ID, Email: user.Email}
	if !sendInvite {
		result.TempPassword = password
		return result, nil
	}

	sent := true
	if err := s.sendInvite(ctx, user, *user.InviteToken); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("user_id", user.ID).Error("failed to send invite mail")
		sent = false
		result.Error = err.Error()
	}
	result.Sent = &sent
	return result, nil
}

func (s *Service) sendInvite(ctx context.Context, user *auth.User, token string) error {
	link := s.config.AppOrigin + "/activate?token=" + url.QueryEscape(token)
	msg, err := mail.InviteMessage(user.Email, user.Name, link, formatTTL(s.config.InviteTTL))
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

// ResendInvite issues a fresh invite token to an account that has not been activated yet
func (s *Service) ResendInvite(ctx context.Context, userID int64) error {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}

	token := auth.NewInviteToken()
	if err := s.store.SetInvite(ctx, user.ID, token, s.now().Add(s.config.InviteTTL).UTC()); err != nil {
		return err
	}
	if err := s.sendInvite(ctx, user, token); err != nil {
		return fmt.Errorf("failed to send invite mail: %w", err)
	}
	return nil
}

// ResolveRole finds a role by id, or by name when id is zero
func (s *Service) ResolveRole(ctx context.Context, roleID int64, roleName string) (*rbac.Role, error) {
	if roleID > 0 {
		return s.roles.GetRole(ctx, roleID)
	}
	if strings.TrimSpace(roleName) != "" {
		return s.roles.GetRoleByName(ctx, roleName)
	}
	return nil, invalid("roleId or roleName is required")
}

// AssignRole moves a user to roleID
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	return s.store.AssignRole(ctx, userID, roleID)
}

// SetVerified sets the verification flag of an account
func (s *Service) SetVerified(ctx context.Context, userID int64, verified bool) error {
	return s.store.SetVerified(ctx, userID, verified)
}

// UpdateUser applies an admin edit
func (s *Service) UpdateUser(ctx context.Context, userID int64, input UpdateInput) (*Detail, error) {
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if err := validateName(trimmed); err != nil {
			return nil, err
		}
		input.Name = &trimmed
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, invalid("status must be active or inactive")
	}
	if input.RoleID != nil {
		if _, err := s.roles.GetRole(ctx, *input.RoleID); err != nil {
			return nil, err
		}
	}

	if err := s.store.Update(ctx, userID, input); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// GetUser loads a user with its role and permission names
func (s *Service) GetUser(ctx context.Context, userID int64) (*Detail, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	detail := &Detail{User: *user, PermissionNames: []string{}}
	role, err := s.roles.LoadRoleWithPermissions(ctx, user.RoleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return detail, nil
	}
	if err != nil {
		return nil, err
	}
	detail.Role = &RoleSummary{
		ID:          role.ID,
		Name:        role.Name,
		Department:  role.Department,
		IsSuperuser: role.IsSuperuser,
	}
	detail.PermissionNames = role.PermissionNames()
	return detail, nil
}

// ListUsers returns a filtered page of users
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status must be active or inactive")
	}
	return s.store.List(ctx, filter)
}

// UpdateSelf applies a profile edit made by the user themselves
func (s *Service) UpdateSelf(ctx context.Context, userID int64, input ProfileInput) (*Detail, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		user.Name = name
	}
	if input.Email != nil {
		email := auth.NormalizeEmail(*input.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		taken, err := s.store.EmailTaken(ctx, email, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrEmailTaken
		}
		user.Email = email
	}
	if input.PhoneNumber != nil {
		phone := strings.TrimSpace(*input.PhoneNumber)
		if phone == "" {
			user.PhoneNumber = nil
		} else {
			user.PhoneNumber = &phone
		}
	}
	if input.Address != nil {
		address := strings.TrimSpace(*input.Address)
		if len([]rune(address)) < 2 {
			return nil, invalid("address must be at least 2 characters")
		}
		user.Address = &address
	}
	if input.BirthDate != nil {
		birth, err := parseDate(*input.BirthDate)
		if err != nil {
			return nil, err
		}
		user.BirthDate = birth
	}

	if err := s.store.SaveProfile(ctx, user); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, invalid("birth_date must be a date (YYYY-MM-DD)")
}

// CleanupExpired clears expired reset codes and invite tokens
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.CleanupExpired(ctx, s.now().UTC())
}

func formatTTL(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return strconv.Itoa(minutes) + " minutes"
}
