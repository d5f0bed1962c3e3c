package businessflow

import (
	"context"

	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"go.uber.org/zap"
)

// Denial rules, logged with every refusal
const (
	ruleNoActor        = "actor_missing"
	ruleTargetLookup   = "target_lookup_failed"
	ruleTargetMissing  = "target_not_found"
	ruleNotAdmin       = "not_admin"
	ruleAncestryLookup = "ancestor_lookup_failed"
	ruleMissingParent  = "parent_not_found"
	ruleCycle          = "ancestry_cycle"
	ruleMaxDepth       = "ancestry_too_deep"
	ruleNotInAncestry  = "not_in_ancestry"
)

// PermissionEvaluator decides whether an admin may operate on an account
type PermissionEvaluator interface {
	HasPermission(ctx context.Context, actor *Actor, targetAccountID string) bool
}

// PermissionEvaluatorImpl walks the account tree upwards from the target
type PermissionEvaluatorImpl struct {
	accountRepo repository.AccountRepository
	logger      *zap.Logger
}

func NewPermissionEvaluator(accountRepo repository.AccountRepository, logger *zap.Logger) PermissionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionEvaluatorImpl{
		accountRepo: accountRepo,
		logger:      logger,
	}
}

// HasPermission never returns an error. Any lookup failure denies.
func (p *PermissionEvaluatorImpl) HasPermission(ctx context.Context, actor *Actor, targetAccountID string) bool {
	if actor == nil || actor.User == nil {
		p.deny(actor, targetAccountID, ruleNoActor, nil)
		return false
	}

	target, err := p.accountRepo.ByID(ctx, targetAccountID)
	if err != nil {
		p.deny(actor, targetAccountID, ruleTargetLookup, err)
		return false
	}
	if target == nil {
		p.deny(actor, targetAccountID, ruleTargetMissing, nil)
		return false
	}

	if actor.IsUnlimitedMainAdmin() {
		return true
	}

	if !actor.User.IsAdmin() {
		p.deny(actor, targetAccountID, ruleNotAdmin, nil)
		return false
	}

	visited := make(map[string]struct{}, 8)
	current := target
	for depth := 0; depth < utils.MaxAncestryDepth; depth++ {
		if grantsAccess(actor.User, current) {
			return true
		}
		visited[current.ID] = struct{}{}

		if current.ParentID == nil {
			p.deny(actor, targetAccountID, ruleNotInAncestry, nil)
			return false
		}
		if _, seen := visited[*current.ParentID]; seen {
			p.deny(actor, targetAccountID, ruleCycle, nil)
			return false
		}

		parent, err := p.accountRepo.ByID(ctx, *current.ParentID)
		if err != nil {
			p.deny(actor, targetAccountID, ruleAncestryLookup, err)
			return false
		}
		if parent == nil {
			p.deny(actor, targetAccountID, ruleMissingParent, nil)
			return false
		}
		current = parent
	}

	p.deny(actor, targetAccountID, ruleMaxDepth, nil)
	return false
}

func grantsAccess(user *models.User, account *models.Account) bool {
	if account.ID == user.AccountID {
		return true
	}
	return account.PrimaryAdminID != nil && *account.PrimaryAdminID == user.ID
}

func (p *PermissionEvaluatorImpl) deny(actor *Actor, targetAccountID, rule string, err error) {
	fields := []zap.Field{
		zap.String("actor_id", actor.ID()),
		zap.String("target_account_id", targetAccountID),
		zap.String("rule", rule),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		p.logger.Error("permission denied", fields...)
		return
	}
	p.logger.Info("permission denied", fields...)
}
