package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/metrics"
	"github.com/terraconstructs/fhirapi/internal/repository"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token  string   `json:"token"`
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username       string   `json:"username" validate:"required,min=3,max=64,excludesall= /"`
	Password       string   `json:"password" validate:"required,min=8,max=72"`
	Roles          []string `json:"roles" validate:"required,min=1,dive,oneof=Admin Clinician Patient System"`
	PatientID      string   `json:"patient_id,omitempty" validate:"omitempty,max=64"`
	OrganizationID string   `json:"organization_id,omitempty" validate:"omitempty,max=64"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates a request DTO and reports every failing field
// in one Validation error.
func ValidateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fhirerr.Validation("%s", err.Error())
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, describeFieldError(fe))
	}
	return fhirerr.Validation("%s", strings.Join(messages, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(fe.Param()), ", "))
	case "excludesall":
		return field + " contains invalid characters"
	default:
		return field + " is invalid"
	}
}

// Authenticator performs password logins and user registration.
type Authenticator struct {
	users  repository.UserRepository
	issuer *TokenIssuer
	logger *zap.Logger
}

// NewAuthenticator wires the authenticator to its user store.
func NewAuthenticator(users repository.UserRepository, issuer *TokenIssuer, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{users: users, issuer: issuer, logger: logger}
}

var errBadCredentials = fhirerr.Unauthenticated("Invalid username or password")

// Login verifies credentials and issues an access token.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	user, err := a.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			a.logger.Info("login failed", zap.String("username", req.Username), zap.String("reason", "unknown user"))
			metrics.RecordLogin(false)
			return nil, errBadCredentials
		}
		return nil, err
	}
	if user.Disabled() || !CheckPassword(user.PasswordHash, req.Password) {
		a.logger.Info("login failed", zap.String("username", req.Username), zap.String("reason", "rejected"))
		metrics.RecordLogin(false)
		return nil, errBadCredentials
	}

	claims := ClaimsForUser(user)
	token, issued, err := a.issuer.Issue(claims)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	if err := a.users.UpdateLastLogin(ctx, user.ID); err != nil {
		a.logger.Warn("failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}
	metrics.RecordLogin(true)
	a.logger.Info("login succeeded", zap.String("user_id", user.ID), zap.Strings("roles", issued.Roles))

	return &LoginResponse{Token: token, UserID: user.ID, Roles: issued.Roles}, nil
}

// Register creates a local user. Only administrators and the system
// context may register users.
func (a *Authenticator) Register(ctx context.Context, sc *authz.SecurityContext, req RegisterRequest) (*models.User, error) {
	if sc == nil || sc.UserID() == "" {
		return nil, fhirerr.Unauthenticated("authentication required")
	}
	if !sc.IsAdmin() && !sc.IsSystem() {
		return nil, fhirerr.Forbidden("User %s lacks permission to register users", sc.UserID())
	}
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	roles := authz.ParseRoles(req.Roles)
	if roles.Has(authz.RolePatient) && req.PatientID == "" {
		return nil, fhirerr.Validation("patient_id is required for the Patient role")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
	}
	user.SetRoleNames(roles.Names())
	if req.PatientID != "" {
		user.PatientID = &req.PatientID
	}
	if req.OrganizationID != "" {
		user.OrganizationID = &req.OrganizationID
	}

	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	a.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("registered_by", sc.UserID()),
	)
	return user, nil
}

// ClaimsForUser builds the identity bundle for a stored user.
func ClaimsForUser(user *models.User) Claims {
	c := Claims{
		Subject: user.ID,
		Roles:   authz.ParseRoles(user.RoleNames()).Names(),
	}
	if user.PatientID != nil {
		c.PatientID = *user.PatientID
	}
	if user.OrganizationID != nil {
		c.OrganizationID = *user.OrganizationID
	}
	return c
}
