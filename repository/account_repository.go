package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/utils"
	"gorm.io/gorm"
)

// AccountRepositoryImpl implements AccountRepository interface
type AccountRepositoryImpl struct {
	*BaseRepository[models.Account, models.AccountFilter]
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &AccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Account, models.AccountFilter](db),
	}
}

// ByExternalKey retrieves an account by its deterministic external key
func (r *AccountRepositoryImpl) ByExternalKey(ctx context.Context, key string) (*models.Account, error) {
	accounts, err := r.ByFilter(ctx, models.AccountFilter{ExternalKey: &key}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0], nil
}

// Update overwrites the mutable fields of an account
func (r *AccountRepositoryImpl) Update(ctx context.Context, account *models.Account) error {
	db := r.getDB(ctx)

	account.UpdatedAt = utils.UTCNow()
	err := db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"name":             account.Name,
			"description":      account.Description,
			"country":          account.Country,
			"primary_admin_id": account.PrimaryAdminID,
			"updated_at":       account.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	return nil
}

// Delete removes an account by id
func (r *AccountRepositoryImpl) Delete(ctx context.Context, id string) error {
	db := r.getDB(ctx)

	res := db.Where("id = ?", id).Delete(&models.Account{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReparentChildren moves every direct child of fromParentID under toParentID
func (r *AccountRepositoryImpl) ReparentChildren(ctx context.Context, fromParentID, toParentID string) (int64, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.Account{}).
		Where("parent_id = ?", fromParentID).
		Updates(map[string]any{"parent_id": toParentID, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reparent children of %s: %w", fromParentID, res.Error)
	}
	return res.RowsAffected, nil
}

// ListAll returns every account ordered by hierarchy level
func (r *AccountRepositoryImpl) ListAll(ctx context.Context) ([]*models.Account, error) {
	return r.ByFilter(ctx, models.AccountFilter{}, "", 0, 0)
}

// applyFilter applies filter criteria to a GORM query
func (r *AccountRepositoryImpl) applyFilter(query *gorm.DB, filter models.AccountFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.ExternalKey != nil {
		query = query.Where("external_key = ?", *filter.ExternalKey)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.ParentID != nil {
		query = query.Where("parent_id = ?", *filter.ParentID)
	}
	if filter.PrimaryAdminID != nil {
		query = query.Where("primary_admin_id = ?", *filter.PrimaryAdminID)
	}
	if filter.MinLevel != nil {
		var types []models.AccountType
		for _, t := range accountTypesByLevel {
			if t.Level() >= *filter.MinLevel {
				types = append(types, t)
			}
		}
		query = query.Where("type IN ?", types)
	}
	return query
}

var accountTypesByLevel = []models.AccountType{
	models.AccountTypeMain,
	models.AccountTypeInstitutional,
	models.AccountTypeRegional,
	models.AccountTypeDistrict,
	models.AccountTypeBranch,
	models.AccountTypeDepartment,
}

// ByFilter retrieves accounts based on filter criteria
func (r *AccountRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountFilter, orderBy string, limit, offset int) ([]*models.Account, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Account{}), filter)

	if orderBy == "" {
		orderBy = "created_at ASC, id ASC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var accounts []*models.Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to find accounts by filter: %w", err)
	}
	return accounts, nil
}

// Count returns the number of accounts matching the filter
func (r *AccountRepositoryImpl) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Account{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

// IsNotFound reports whether err means the row was absent
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
