package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/utils"
	"gorm.io/gorm"
)

// UserRepositoryImpl implements UserRepository interface
type UserRepositoryImpl struct {
	*BaseRepository[models.User, models.UserFilter]
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{
		BaseRepository: NewBaseRepository[models.User, models.UserFilter](db),
	}
}

// ByEmail retrieves a user by email (case-insensitive)
func (r *UserRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	users, err := r.ByFilter(ctx, models.UserFilter{Email: &normalized}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

// Update overwrites the profile fields of a user. Account affiliation is changed only through ReassignAccount.
func (r *UserRepositoryImpl) Update(ctx context.Context, user *models.User) error {
	db := r.getDB(ctx)

	user.UpdatedAt = utils.UTCNow()
	err := db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"first_name":    user.FirstName,
			"last_name":     user.LastName,
			"phone":         user.Phone,
			"password_hash": user.PasswordHash,
			"admin_type":    user.AdminType,
			"updated_at":    user.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// ReassignAccount performs a conditional update keyed on the expected prior account id
func (r *UserRepositoryImpl) ReassignAccount(ctx context.Context, userID, expectedAccountID, newAccountID string, adminType *models.AdminType) (bool, error) {
	db := r.getDB(ctx)

	updates := map[string]any{
		"account_id": newAccountID,
		"updated_at": utils.UTCNow(),
	}
	if adminType != nil {
		updates["admin_type"] = *adminType
	}

	res := db.Model(&models.User{}).
		Where("id = ? AND account_id = ?", userID, expectedAccountID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to reassign user %s: %w", userID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReassignAllFromAccount moves every user of one account to another
func (r *UserRepositoryImpl) ReassignAllFromAccount(ctx context.Context, fromAccountID, toAccountID string) (int64, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.User{}).
		Where("account_id = ?", fromAccountID).
		Updates(map[string]any{"account_id": toAccountID, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reassign users of account %s: %w", fromAccountID, res.Error)
	}
	return res.RowsAffected, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *UserRepositoryImpl) applyFilter(query *gorm.DB, filter models.UserFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.Email != nil {
		query = query.Where("LOWER(email) = ?", strings.ToLower(*filter.Email))
	}
	if len(filter.Emails) > 0 {
		lowered := make([]string, 0, len(filter.Emails))
		for _, e := range filter.Emails {
			lowered = append(lowered, strings.ToLower(e))
		}
		query = query.Where("LOWER(email) IN ?", lowered)
	}
	if filter.Role != nil {
		query = query.Where("role = ?", *filter.Role)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if len(filter.AccountIDs) > 0 {
		query = query.Where("account_id IN ?", filter.AccountIDs)
	}
	if filter.Source != nil {
		query = query.Where("source = ?", *filter.Source)
	}
	return query
}

// ByFilter retrieves users based on filter criteria
func (r *UserRepositoryImpl) ByFilter(ctx context.Context, filter models.UserFilter, orderBy string, limit, offset int) ([]*models.User, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.User{}), filter)

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

	var users []*models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users by filter: %w", err)
	}
	return users, nil
}

// Count returns the number of users matching the filter
func (r *UserRepositoryImpl) Count(ctx context.Context, filter models.UserFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.User{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
