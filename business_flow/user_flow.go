package businessflow

import (
	"context"
	"errors"
	"strings"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const OperationCreateUser = "create_user"

// UserFlow handles explicit user creation by admins
type UserFlow interface {
	CreateUser(ctx context.Context, actor *Actor, req *dto.CreateUserRequest, metadata *ClientMetadata) (*dto.CreateUserResponse, error)
}

type UserFlowImpl struct {
	accountRepo repository.AccountRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditLogRepository
	txManager   repository.TxManager
	bcryptCost  int
	logger      *zap.Logger
}

func NewUserFlow(
	accountRepo repository.AccountRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditLogRepository,
	txManager repository.TxManager,
	bcryptCost int,
	logger *zap.Logger,
) UserFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserFlowImpl{
		accountRepo: accountRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		bcryptCost:  bcryptCost,
		logger:      logger,
	}
}

// CreateUser adds a user to an existing account. The email must be unused.
func (f *UserFlowImpl) CreateUser(ctx context.Context, actor *Actor, req *dto.CreateUserRequest, metadata *ClientMetadata) (*dto.CreateUserResponse, error) {
	if !actor.IsUnlimitedMainAdmin() {
		return nil, f.fail(ctx, actor, req.AccountID, metadata,
			NewBusinessError("CREATE_USER_FORBIDDEN", "Only unlimited admins of a main account can create users", ErrUnlimitedMainAdminOnly))
	}

	role := models.Role(req.Role)
	if !role.Valid() {
		return nil, f.fail(ctx, actor, req.AccountID, metadata,
			NewBusinessError("CREATE_USER_VALIDATION_FAILED", "Invalid role", ErrInvalidRole))
	}

	user := &models.User{
		ID:        uuid.NewString(),
		FirstName: utils.SanitizeText(req.FirstName),
		LastName:  utils.SanitizeText(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     strings.TrimSpace(req.Phone),
		Role:      role,
		AccountID: req.AccountID,
		Source:    models.UserSourceLocal,
	}
	if user.FirstName == "" || user.LastName == "" {
		return nil, f.fail(ctx, actor, req.AccountID, metadata,
			NewBusinessError("CREATE_USER_VALIDATION_FAILED", "First and last name are required", ErrEmptyName))
	}

	if role == models.RoleAdmin {
		adminType := models.AdminTypeLimited
		if req.AdminType != "" {
			adminType = models.AdminType(req.AdminType)
			if !adminType.Valid() {
				return nil, f.fail(ctx, actor, req.AccountID, metadata,
					NewBusinessError("CREATE_USER_VALIDATION_FAILED", "Invalid admin type", ErrInvalidAdminType))
			}
		}
		user.AdminType = &adminType
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), f.bcryptCost)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, f.fail(ctx, actor, req.AccountID, metadata,
				NewBusinessError("CREATE_USER_VALIDATION_FAILED", "Password must not exceed 72 bytes", ErrPasswordTooLong))
		}
		if err != nil {
			return nil, f.fail(ctx, actor, req.AccountID, metadata,
				NewBusinessError("PASSWORD_HASH_FAILED", "Failed to hash password", err))
		}
		user.PasswordHash = string(hash)
	}

	err := f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByID(txCtx, req.AccountID)
		if err != nil {
			return NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", err)
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}

		existing, err := f.userRepo.ByEmail(txCtx, user.Email)
		if err != nil {
			return NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
		}
		if existing != nil {
			return NewBusinessError("EMAIL_ALREADY_EXISTS", "A user with this email already exists", ErrEmailAlreadyExists)
		}

		if err := f.userRepo.Save(txCtx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return NewBusinessError("EMAIL_ALREADY_EXISTS", "A user with this email already exists", ErrEmailAlreadyExists)
			}
			return NewBusinessError("USER_CREATION_FAILED", "Failed to create user", err)
		}

		return createAuditLog(txCtx, f.auditRepo, actor.ID(), models.AuditActionUserCreated, utils.ToPtr(user.ID), true, nil, nil,
			map[string]any{"account_id": account.ID, "role": role}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, actor, req.AccountID, metadata, err)
	}

	f.logger.Info("user created",
		zap.String("actor_id", actor.ID()),
		zap.String("user_id", user.ID),
		zap.String("account_id", user.AccountID),
		zap.String("role", string(role)),
	)
	return &dto.CreateUserResponse{User: ToUserDTO(user)}, nil
}

func (f *UserFlowImpl) fail(ctx context.Context, actor *Actor, targetID string, metadata *ClientMetadata, err error) error {
	logFailure(f.logger, actor.ID(), OperationCreateUser, targetID, err)

	msg := err.Error()
	if auditErr := createAuditLog(ctx, f.auditRepo, actor.ID(), models.AuditActionUserCreated, utils.ToPtr(targetID), false, &msg, nil, nil, metadata); auditErr != nil {
		f.logger.Warn("failed to write audit log", zap.String("operation", OperationCreateUser), zap.Error(auditErr))
	}
	return err
}
