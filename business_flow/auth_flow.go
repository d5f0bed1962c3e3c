package businessflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/services"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthFlow issues credentials and resolves them back into actors
type AuthFlow interface {
	Login(ctx context.Context, req *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error)
	Authenticate(ctx context.Context, credential string) (*Actor, error)
	Logout(ctx context.Context, actor *Actor, credential string, metadata *ClientMetadata) (*dto.LogoutResponse, error)
}

type AuthFlowImpl struct {
	userRepo     repository.UserRepository
	accountRepo  repository.AccountRepository
	auditRepo    repository.AuditLogRepository
	tokenService services.TokenService
	logger       *zap.Logger
}

func NewAuthFlow(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	auditRepo repository.AuditLogRepository,
	tokenService services.TokenService,
	logger *zap.Logger,
) AuthFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthFlowImpl{
		userRepo:     userRepo,
		accountRepo:  accountRepo,
		auditRepo:    auditRepo,
		tokenService: tokenService,
		logger:       logger,
	}
}

// Login verifies an admin's email and password and issues an access credential
func (af *AuthFlowImpl) Login(ctx context.Context, req *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error) {
	user, err := af.userRepo.ByEmail(ctx, req.Email)
	if err != nil {
		return nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
	}
	if user == nil {
		af.loginFailed(ctx, "", req.Email, "unknown email", metadata)
		return nil, NewBusinessError("INVALID_CREDENTIALS", "Invalid email or password", ErrInvalidCredentials)
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		af.loginFailed(ctx, user.ID, req.Email, "incorrect password", metadata)
		return nil, NewBusinessError("INVALID_CREDENTIALS", "Invalid email or password", ErrInvalidCredentials)
	}
	if !user.IsAdmin() {
		af.loginFailed(ctx, user.ID, req.Email, "not an admin", metadata)
		return nil, NewBusinessError("NOT_AN_ADMIN", "Only admins may sign in", ErrNotAnAdmin)
	}

	token, expiresAt, err := af.tokenService.GenerateAccessToken(services.TokenSubject{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		AdminType: string(utils.Deref(user.AdminType)),
		AccountID: user.AccountID,
	})
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate credential", err)
	}

	if err := createAuditLog(ctx, af.auditRepo, user.ID, models.AuditActionLoginSuccessful, utils.ToPtr(user.ID), true, nil, nil, metadata, metadata); err != nil {
		af.logger.Warn("failed to write audit log", zap.String("operation", "login"), zap.Error(err))
	}

	return &dto.LoginResponse{
		Credential: token,
		TokenType:  utils.TokenTypeBearer,
		ExpiresIn:  int(af.tokenService.AccessTokenTTL().Seconds()),
		ExpiresAt:  expiresAt,
		User:       ToUserDTO(user),
	}, nil
}

func (af *AuthFlowImpl) loginFailed(ctx context.Context, userID, email, reason string, metadata *ClientMetadata) {
	af.logger.Info("login failed", zap.String("email", email), zap.String("reason", reason))
	var target *string
	if userID != "" {
		target = utils.ToPtr(userID)
	}
	if err := createAuditLog(ctx, af.auditRepo, userID, models.AuditActionLoginFailed, target, false, &reason, nil, map[string]string{"email": email}, metadata); err != nil {
		af.logger.Warn("failed to write audit log", zap.String("operation", "login"), zap.Error(err))
	}
}

// Authenticate validates a credential and reloads the admin it was issued to.
// Role or account changes made after issuance take effect immediately.
func (af *AuthFlowImpl) Authenticate(ctx context.Context, credential string) (*Actor, error) {
	if credential == "" {
		return nil, NewBusinessError("CREDENTIAL_REQUIRED", "Credential is required", ErrCredentialRequired)
	}

	claims, err := af.tokenService.ValidateAccessToken(ctx, credential)
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		return nil, NewBusinessError("CREDENTIAL_EXPIRED", "Credential has expired", ErrCredentialExpired)
	case errors.Is(err, services.ErrTokenInvalid), errors.Is(err, services.ErrTokenRevoked):
		return nil, NewBusinessError("CREDENTIAL_INVALID", "Credential is invalid", ErrCredentialInvalid)
	case err != nil:
		return nil, NewBusinessError("CREDENTIAL_CHECK_FAILED", "Failed to validate credential", err)
	}

	user, err := af.userRepo.ByID(ctx, claims.UserID)
	if err != nil {
		return nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
	}
	if user == nil {
		return nil, NewBusinessError("CREDENTIAL_INVALID", "Credential is invalid", ErrCredentialInvalid)
	}
	if !user.IsAdmin() {
		return nil, NewBusinessError("NOT_AN_ADMIN", "Only admins may use this service", ErrNotAnAdmin)
	}

	account, err := af.accountRepo.ByID(ctx, user.AccountID)
	if err != nil {
		return nil, NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", err)
	}
	if account == nil {
		return nil, NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", fmt.Errorf("user %s references missing account %s", user.ID, user.AccountID))
	}

	return &Actor{User: user, Account: account}, nil
}

// Logout revokes the credential until it would have expired
func (af *AuthFlowImpl) Logout(ctx context.Context, actor *Actor, credential string, metadata *ClientMetadata) (*dto.LogoutResponse, error) {
	if credential == "" {
		return &dto.LogoutResponse{Revoked: false}, nil
	}
	if err := af.tokenService.RevokeToken(ctx, credential); err != nil {
		return nil, NewBusinessError("LOGOUT_FAILED", "Failed to revoke credential", err)
	}
	if err := createAuditLog(ctx, af.auditRepo, actor.ID(), models.AuditActionLogout, nil, true, nil, nil, nil, metadata); err != nil {
		af.logger.Warn("failed to write audit log", zap.String("operation", "logout"), zap.Error(err))
	}
	return &dto.LogoutResponse{Revoked: true}, nil
}
