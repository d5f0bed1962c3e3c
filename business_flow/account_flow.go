package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation names used in logs, audit metadata and change broadcasts
const (
	OperationCreateAccount = "create"
	OperationEditAccount   = "edit"
	OperationDeleteAccount = "delete"
	OperationAssignUsers   = "assign_users"
)

// AccountFlow handles the account lifecycle
type AccountFlow interface {
	CreateAccount(ctx context.Context, actor *Actor, req *dto.CreateAccountRequest, metadata *ClientMetadata) (*dto.CreateAccountResponse, error)
	EditAccount(ctx context.Context, actor *Actor, req *dto.EditAccountRequest, metadata *ClientMetadata) (*dto.EditAccountResponse, error)
	DeleteAccount(ctx context.Context, actor *Actor, req *dto.DeleteAccountRequest, metadata *ClientMetadata) (*dto.DeleteAccountResponse, error)
	AssignUsers(ctx context.Context, actor *Actor, req *dto.AssignUsersRequest, metadata *ClientMetadata) (*dto.AssignUsersResponse, error)
	GetAccounts(ctx context.Context, actor *Actor) (*dto.GetAccountsResponse, error)
}

// AccountFlowImpl implements AccountFlow. Every mutation runs in one transaction.
type AccountFlowImpl struct {
	accountRepo repository.AccountRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditLogRepository
	txManager   repository.TxManager
	permissions PermissionEvaluator
	logger      *zap.Logger
}

func NewAccountFlow(
	accountRepo repository.AccountRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditLogRepository,
	txManager repository.TxManager,
	permissions PermissionEvaluator,
	logger *zap.Logger,
) AccountFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountFlowImpl{
		accountRepo: accountRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		permissions: permissions,
		logger:      logger,
	}
}

// CreateAccount persists a new account under parent_id and moves the primary admin plus the
// requested admins and users into it. Ids failing the role or ownership filter are skipped and returned.
func (f *AccountFlowImpl) CreateAccount(ctx context.Context, actor *Actor, req *dto.CreateAccountRequest, metadata *ClientMetadata) (*dto.CreateAccountResponse, error) {
	if !actor.IsUnlimitedMainAdmin() {
		return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata,
			NewBusinessError("CREATE_ACCOUNT_FORBIDDEN", "Only unlimited admins of a main account can create accounts", ErrUnlimitedMainAdminOnly))
	}

	accountType := models.AccountType(req.Type)
	if !accountType.Valid() {
		return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata,
			NewBusinessErrorf("CREATE_ACCOUNT_VALIDATION_FAILED", "Unknown account type %q", ErrInvalidAccountType, req.Type))
	}
	if accountType == models.AccountTypeMain {
		return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata,
			NewBusinessError("CREATE_ACCOUNT_VALIDATION_FAILED", "Main accounts cannot be created", ErrMainAccountCreation))
	}

	adminType := models.AdminTypeLimited
	if req.AdminType != "" {
		adminType = models.AdminType(req.AdminType)
		if !adminType.Valid() {
			return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata,
				NewBusinessError("CREATE_ACCOUNT_VALIDATION_FAILED", "Invalid admin type", ErrInvalidAdminType))
		}
	}

	name := utils.SanitizeText(req.Name)
	if name == "" {
		return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata,
			NewBusinessError("CREATE_ACCOUNT_VALIDATION_FAILED", "Account name is required", ErrEmptyName))
	}

	account := &models.Account{
		ID:          uuid.NewString(),
		Name:        name,
		Description: utils.SanitizeText(req.Description),
		Type:        accountType,
		Country:     utils.SanitizeText(req.Country),
	}

	resp := &dto.CreateAccountResponse{
		Admins:          []dto.UserDTO{},
		Users:           []dto.UserDTO{},
		SkippedAdminIDs: []string{},
		SkippedUserIDs:  []string{},
	}

	err := f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		parent, err := f.accountRepo.ByID(txCtx, req.ParentID)
		if err != nil {
			return NewBusinessError("PARENT_LOOKUP_FAILED", "Failed to lookup parent account", err)
		}
		if parent == nil {
			return NewBusinessError("PARENT_ACCOUNT_NOT_FOUND", "Parent account not found", ErrParentAccountNotFound)
		}
		if accountType.Level() < parent.Type.Level() {
			return NewBusinessErrorf("CREATE_ACCOUNT_VALIDATION_FAILED", "A %s account cannot be placed under a %s account", ErrAccountTypeAboveParent, accountType, parent.Type)
		}

		primary, err := f.userRepo.ByID(txCtx, req.PrimaryAdminID)
		if err != nil {
			return NewBusinessError("PRIMARY_ADMIN_LOOKUP_FAILED", "Failed to lookup primary admin", err)
		}
		if primary == nil || !primary.IsAdmin() || primary.AccountID != actor.User.AccountID {
			return NewBusinessError("PRIMARY_ADMIN_NOT_FOUND", "Primary admin not found under your account", ErrPrimaryAdminNotFound)
		}

		account.ParentID = utils.ToPtr(parent.ID)
		account.PrimaryAdminID = utils.ToPtr(primary.ID)
		if err := f.accountRepo.Save(txCtx, account); err != nil {
			return NewBusinessError("ACCOUNT_CREATION_FAILED", "Failed to create account", err)
		}

		moved, err := f.userRepo.ReassignAccount(txCtx, primary.ID, actor.User.AccountID, account.ID, &adminType)
		if err != nil {
			return NewBusinessError("PRIMARY_ADMIN_REASSIGN_FAILED", "Failed to reassign primary admin", err)
		}
		if !moved {
			return NewBusinessError("PRIMARY_ADMIN_REASSIGN_CONFLICT", "Primary admin was moved by another request", ErrConcurrentReassign)
		}
		primary.AccountID = account.ID
		primary.AdminType = utils.ToPtr(adminType)
		resp.PrimaryAdmin = ToUserDTO(primary)

		admins, skipped, err := f.reassignCandidates(txCtx, actor, uniqueIDs(req.AdminIDs, primary.ID), models.RoleAdmin, account.ID)
		if err != nil {
			return err
		}
		resp.Admins = toUserDTOs(admins)
		resp.SkippedAdminIDs = skipped

		users, skipped, err := f.reassignCandidates(txCtx, actor, uniqueIDs(req.UserIDs, primary.ID), models.RoleUser, account.ID)
		if err != nil {
			return err
		}
		resp.Users = toUserDTOs(users)
		resp.SkippedUserIDs = skipped

		return createAuditLog(txCtx, f.auditRepo, actor.ID(), models.AuditActionAccountCreated, utils.ToPtr(account.ID), true, nil,
			append(append([]string{}, resp.SkippedAdminIDs...), resp.SkippedUserIDs...),
			map[string]any{
				"parent_id":     parent.ID,
				"type":          accountType,
				"primary_admin": primary.ID,
				"admins_moved":  len(admins),
				"users_moved":   len(users),
			}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, actor, OperationCreateAccount, req.ParentID, metadata, err)
	}

	resp.Account = ToAccountDTO(account)
	f.logger.Info("account created",
		zap.String("actor_id", actor.ID()),
		zap.String("account_id", account.ID),
		zap.Int("admins_moved", len(resp.Admins)),
		zap.Int("users_moved", len(resp.Users)),
		zap.Int("skipped", len(resp.SkippedAdminIDs)+len(resp.SkippedUserIDs)),
	)
	return resp, nil
}

// reassignCandidates moves users of the given role that currently sit in the actor's account.
// Users moved concurrently by someone else are reported as skipped.
func (f *AccountFlowImpl) reassignCandidates(ctx context.Context, actor *Actor, ids []string, role models.Role, accountID string) ([]*models.User, []string, error) {
	moved := []*models.User{}
	skipped := []string{}
	if len(ids) == 0 {
		return moved, skipped, nil
	}

	found, err := f.userRepo.ByFilter(ctx, models.UserFilter{IDs: ids}, "", 0, 0)
	if err != nil {
		return nil, nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup users", err)
	}
	byID := make(map[string]*models.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}

	for _, id := range ids {
		u, ok := byID[id]
		if !ok || u.Role != role || u.AccountID != actor.User.AccountID {
			skipped = append(skipped, id)
			continue
		}

		var adminType *models.AdminType
		if role == models.RoleAdmin {
			adminType = u.AdminType
			if adminType == nil {
				adminType = utils.ToPtr(models.AdminTypeLimited)
			}
		}

		ok, err := f.userRepo.ReassignAccount(ctx, u.ID, u.AccountID, accountID, adminType)
		if err != nil {
			return nil, nil, NewBusinessError("USER_REASSIGN_FAILED", "Failed to reassign user", err)
		}
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		u.AccountID = accountID
		u.AdminType = adminType
		moved = append(moved, u)
	}
	return moved, skipped, nil
}

// EditAccount overwrites the provided fields of an account
func (f *AccountFlowImpl) EditAccount(ctx context.Context, actor *Actor, req *dto.EditAccountRequest, metadata *ClientMetadata) (*dto.EditAccountResponse, error) {
	account, err := f.accountRepo.ByID(ctx, req.AccountID)
	if err != nil {
		return nil, f.fail(ctx, actor, OperationEditAccount, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", err))
	}
	if account == nil {
		return nil, f.fail(ctx, actor, OperationEditAccount, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound))
	}
	if !f.permissions.HasPermission(ctx, actor, req.AccountID) {
		return nil, f.fail(ctx, actor, OperationEditAccount, req.AccountID, metadata,
			NewBusinessError("EDIT_ACCOUNT_FORBIDDEN", "You cannot edit this account", ErrPermissionDenied))
	}

	if req.Name != nil {
		name := utils.SanitizeText(*req.Name)
		if name == "" {
			return nil, f.fail(ctx, actor, OperationEditAccount, req.AccountID, metadata,
				NewBusinessError("EDIT_ACCOUNT_VALIDATION_FAILED", "Account name is required", ErrEmptyName))
		}
		account.Name = name
	}
	if req.Description != nil {
		account.Description = utils.SanitizeText(*req.Description)
	}
	if req.Country != nil {
		account.Country = utils.SanitizeText(*req.Country)
	}

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if req.PrimaryAdminID != nil {
			if *req.PrimaryAdminID == "" {
				account.PrimaryAdminID = nil
			} else {
				admin, err := f.userRepo.ByID(txCtx, *req.PrimaryAdminID)
				if err != nil {
					return NewBusinessError("PRIMARY_ADMIN_LOOKUP_FAILED", "Failed to lookup primary admin", err)
				}
				if admin == nil || !admin.IsAdmin() {
					return NewBusinessError("PRIMARY_ADMIN_NOT_FOUND", "Primary admin not found", ErrPrimaryAdminNotFound)
				}
				account.PrimaryAdminID = utils.ToPtr(admin.ID)
			}
		}

		if err := f.accountRepo.Update(txCtx, account); err != nil {
			return NewBusinessError("ACCOUNT_UPDATE_FAILED", "Failed to update account", err)
		}
		return createAuditLog(txCtx, f.auditRepo, actor.ID(), models.AuditActionAccountEdited, utils.ToPtr(account.ID), true, nil, nil, req, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, actor, OperationEditAccount, req.AccountID, metadata, err)
	}

	return &dto.EditAccountResponse{Account: ToAccountDTO(account)}, nil
}

// DeleteAccount moves users and child accounts to the nearest surviving ancestor and removes the account.
// When no ancestor resolves, an account without users or children is still deleted, but one that has
// either is refused with a Conflict error (NO_SURVIVING_ANCESTOR) and left untouched.
func (f *AccountFlowImpl) DeleteAccount(ctx context.Context, actor *Actor, req *dto.DeleteAccountRequest, metadata *ClientMetadata) (*dto.DeleteAccountResponse, error) {
	account, err := f.accountRepo.ByID(ctx, req.AccountID)
	if err != nil {
		return nil, f.fail(ctx, actor, OperationDeleteAccount, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", err))
	}
	if account == nil {
		return nil, f.fail(ctx, actor, OperationDeleteAccount, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound))
	}
	if !f.permissions.HasPermission(ctx, actor, req.AccountID) {
		return nil, f.fail(ctx, actor, OperationDeleteAccount, req.AccountID, metadata,
			NewBusinessError("DELETE_ACCOUNT_FORBIDDEN", "You cannot delete this account", ErrPermissionDenied))
	}

	resp := &dto.DeleteAccountResponse{AccountID: account.ID}

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		heir, err := f.survivingAncestor(txCtx, actor, account)
		if err != nil {
			return err
		}

		if heir == nil {
			users, err := f.userRepo.Count(txCtx, models.UserFilter{AccountID: utils.ToPtr(account.ID)})
			if err != nil {
				return NewBusinessError("USER_COUNT_FAILED", "Failed to count account users", err)
			}
			children, err := f.accountRepo.Count(txCtx, models.AccountFilter{ParentID: utils.ToPtr(account.ID)})
			if err != nil {
				return NewBusinessError("CHILD_COUNT_FAILED", "Failed to count child accounts", err)
			}
			if users > 0 || children > 0 {
				f.logger.Error("account has members but no surviving ancestor, operator action required",
					zap.String("actor_id", actor.ID()),
					zap.String("account_id", account.ID),
					zap.Int64("users", users),
					zap.Int64("children", children),
				)
				return NewBusinessError("NO_SURVIVING_ANCESTOR", "Account still has users or child accounts and no ancestor to receive them", ErrNoSurvivingAncestor)
			}
		} else {
			resp.ReassignedTo = utils.ToPtr(heir.ID)
			if resp.ReassignedUsers, err = f.userRepo.ReassignAllFromAccount(txCtx, account.ID, heir.ID); err != nil {
				return NewBusinessError("USER_REASSIGN_FAILED", "Failed to reassign account users", err)
			}
			if resp.ReparentedChildren, err = f.accountRepo.ReparentChildren(txCtx, account.ID, heir.ID); err != nil {
				return NewBusinessError("CHILD_REPARENT_FAILED", "Failed to move child accounts", err)
			}
		}

		if err := f.accountRepo.Delete(txCtx, account.ID); err != nil {
			if repository.IsNotFound(err) {
				return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
			}
			return NewBusinessError("ACCOUNT_DELETE_FAILED", "Failed to delete account", err)
		}

		return createAuditLog(txCtx, f.auditRepo, actor.ID(), models.AuditActionAccountDeleted, utils.ToPtr(account.ID), true, nil, nil,
			map[string]any{
				"reassigned_to":       resp.ReassignedTo,
				"reassigned_users":    resp.ReassignedUsers,
				"reparented_children": resp.ReparentedChildren,
			}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, actor, OperationDeleteAccount, req.AccountID, metadata, err)
	}

	f.logger.Info("account deleted",
		zap.String("actor_id", actor.ID()),
		zap.String("account_id", account.ID),
		zap.Stringp("reassigned_to", resp.ReassignedTo),
		zap.Int64("reassigned_users", resp.ReassignedUsers),
	)
	return resp, nil
}

// survivingAncestor is the account's parent, or else the actor's main account. Nil when neither survives the delete.
func (f *AccountFlowImpl) survivingAncestor(ctx context.Context, actor *Actor, account *models.Account) (*models.Account, error) {
	if account.ParentID != nil {
		parent, err := f.accountRepo.ByID(ctx, *account.ParentID)
		if err != nil {
			return nil, NewBusinessError("PARENT_LOOKUP_FAILED", "Failed to lookup parent account", err)
		}
		if parent != nil {
			return parent, nil
		}
	}

	mainAccount, err := resolveMainAccount(ctx, f.accountRepo, actor)
	if err != nil {
		f.logger.Warn("failed to resolve actor main account", zap.String("actor_id", actor.ID()), zap.Error(err))
		return nil, nil
	}
	if mainAccount == nil || mainAccount.ID == account.ID {
		return nil, nil
	}
	return mainAccount, nil
}

// AssignUsers moves users that sit in the actor's own account or its main account into account_id
func (f *AccountFlowImpl) AssignUsers(ctx context.Context, actor *Actor, req *dto.AssignUsersRequest, metadata *ClientMetadata) (*dto.AssignUsersResponse, error) {
	account, err := f.accountRepo.ByID(ctx, req.AccountID)
	if err != nil {
		return nil, f.fail(ctx, actor, OperationAssignUsers, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_LOOKUP_FAILED", "Failed to lookup account", err))
	}
	if account == nil {
		return nil, f.fail(ctx, actor, OperationAssignUsers, req.AccountID, metadata,
			NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound))
	}
	if !f.permissions.HasPermission(ctx, actor, req.AccountID) {
		return nil, f.fail(ctx, actor, OperationAssignUsers, req.AccountID, metadata,
			NewBusinessError("ASSIGN_USERS_FORBIDDEN", "You cannot assign users to this account", ErrPermissionDenied))
	}

	mainAccount, err := resolveMainAccount(ctx, f.accountRepo, actor)
	if err != nil {
		return nil, f.fail(ctx, actor, OperationAssignUsers, req.AccountID, metadata,
			NewBusinessError("MAIN_ACCOUNT_LOOKUP_FAILED", "Failed to resolve your main account", err))
	}

	sources := map[string]struct{}{actor.User.AccountID: {}}
	if mainAccount != nil {
		sources[mainAccount.ID] = struct{}{}
	}

	resp := &dto.AssignUsersResponse{
		AccountID:      account.ID,
		Assigned:       []dto.UserDTO{},
		SkippedUserIDs: []string{},
	}

	ids := uniqueIDs(req.UserIDs, "")
	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		found, err := f.userRepo.ByFilter(txCtx, models.UserFilter{IDs: ids}, "", 0, 0)
		if err != nil {
			return NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup users", err)
		}
		byID := make(map[string]*models.User, len(found))
		for _, u := range found {
			byID[u.ID] = u
		}

		for _, id := range ids {
			u, ok := byID[id]
			if !ok {
				resp.SkippedUserIDs = append(resp.SkippedUserIDs, id)
				continue
			}
			if _, allowed := sources[u.AccountID]; !allowed {
				resp.SkippedUserIDs = append(resp.SkippedUserIDs, id)
				continue
			}
			moved, err := f.userRepo.ReassignAccount(txCtx, u.ID, u.AccountID, account.ID, nil)
			if err != nil {
				return NewBusinessError("USER_REASSIGN_FAILED", "Failed to reassign user", err)
			}
			if !moved {
				resp.SkippedUserIDs = append(resp.SkippedUserIDs, id)
				continue
			}
			u.AccountID = account.ID
			resp.Assigned = append(resp.Assigned, ToUserDTO(u))
		}

		return createAuditLog(txCtx, f.auditRepo, actor.ID(), models.AuditActionUsersAssigned, utils.ToPtr(account.ID), true, nil, resp.SkippedUserIDs,
			map[string]any{"assigned": len(resp.Assigned)}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, actor, OperationAssignUsers, req.AccountID, metadata, err)
	}

	return resp, nil
}

// GetAccounts lists the accounts visible to the actor
func (f *AccountFlowImpl) GetAccounts(ctx context.Context, actor *Actor) (*dto.GetAccountsResponse, error) {
	if actor == nil || actor.User == nil || actor.Account == nil {
		return nil, NewBusinessError("ACCOUNTS_FORBIDDEN", "Authentication required", ErrCredentialRequired)
	}

	var accounts []*models.Account
	if actor.IsUnlimitedMainAdmin() {
		all, err := f.accountRepo.ListAll(ctx)
		if err != nil {
			return nil, NewBusinessError("ACCOUNTS_LOOKUP_FAILED", "Failed to list accounts", err)
		}
		accounts = all
	} else {
		level := actor.Account.Type.Level()
		below, err := f.accountRepo.ByFilter(ctx, models.AccountFilter{MinLevel: &level}, "", 0, 0)
		if err != nil {
			return nil, NewBusinessError("ACCOUNTS_LOOKUP_FAILED", "Failed to list accounts", err)
		}
		primaryOf, err := f.accountRepo.ByFilter(ctx, models.AccountFilter{PrimaryAdminID: utils.ToPtr(actor.User.ID)}, "", 0, 0)
		if err != nil {
			return nil, NewBusinessError("ACCOUNTS_LOOKUP_FAILED", "Failed to list accounts", err)
		}

		seen := make(map[string]struct{}, len(below)+len(primaryOf)+1)
		add := func(a *models.Account) {
			if _, ok := seen[a.ID]; ok {
				return
			}
			seen[a.ID] = struct{}{}
			accounts = append(accounts, a)
		}
		add(actor.Account)
		for _, a := range below {
			add(a)
		}
		for _, a := range primaryOf {
			add(a)
		}
	}

	resp := &dto.GetAccountsResponse{Accounts: make([]dto.AccountDTO, 0, len(accounts))}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, ToAccountDTO(a))
	}
	return resp, nil
}

// fail logs a failed operation and best-effort records it in the audit log
func (f *AccountFlowImpl) fail(ctx context.Context, actor *Actor, operation, targetID string, metadata *ClientMetadata, err error) error {
	logFailure(f.logger, actor.ID(), operation, targetID, err)

	action := map[string]string{
		OperationCreateAccount: models.AuditActionAccountCreated,
		OperationEditAccount:   models.AuditActionAccountEdited,
		OperationDeleteAccount: models.AuditActionAccountDeleted,
		OperationAssignUsers:   models.AuditActionUsersAssigned,
	}[operation]
	msg := err.Error()
	var target *string
	if targetID != "" {
		target = utils.ToPtr(targetID)
	}
	if auditErr := createAuditLog(ctx, f.auditRepo, actor.ID(), action, target, false, &msg, nil, nil, metadata); auditErr != nil {
		f.logger.Warn("failed to write audit log", zap.String("operation", operation), zap.Error(auditErr))
	}
	return err
}

// resolveMainAccount walks the actor's ancestor chain to its root
func resolveMainAccount(ctx context.Context, accountRepo repository.AccountRepository, actor *Actor) (*models.Account, error) {
	current := actor.Account
	if current == nil {
		acc, err := accountRepo.ByID(ctx, actor.User.AccountID)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, ErrAccountNotFound
		}
		current = acc
	}

	visited := make(map[string]struct{}, 8)
	for depth := 0; depth < utils.MaxAncestryDepth; depth++ {
		if current.ParentID == nil {
			return current, nil
		}
		visited[current.ID] = struct{}{}
		if _, seen := visited[*current.ParentID]; seen {
			return nil, fmt.Errorf("account %s: ancestry cycle", current.ID)
		}
		parent, err := accountRepo.ByID(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("account %s: parent %s missing", current.ID, *current.ParentID)
		}
		current = parent
	}
	return nil, fmt.Errorf("account %s: ancestry deeper than %d", actor.User.AccountID, utils.MaxAncestryDepth)
}

// uniqueIDs drops empty ids, duplicates and exclude while keeping order
func uniqueIDs(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func logFailure(logger *zap.Logger, actorID, operation, targetID string, err error) {
	fields := []zap.Field{
		zap.String("actor_id", actorID),
		zap.String("operation", operation),
		zap.String("target_id", targetID),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	}
	if KindOf(err) == KindInternal {
		logger.Error("operation failed", fields...)
		return
	}
	logger.Warn("operation failed", fields...)
}
