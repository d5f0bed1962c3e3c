// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/orgsync/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id string) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// AccountRepository defines operations over the account hierarchy
type AccountRepository interface {
	Repository[models.Account, models.AccountFilter]
	ByExternalKey(ctx context.Context, key string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
	ReparentChildren(ctx context.Context, fromParentID, toParentID string) (int64, error)
	ListAll(ctx context.Context) ([]*models.Account, error)
}

// UserRepository defines operations for users and their account affiliation
type UserRepository interface {
	Repository[models.User, models.UserFilter]
	ByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// ReassignAccount moves a user only if it still belongs to expectedAccountID.
	// It reports whether the row was changed.
	ReassignAccount(ctx context.Context, userID, expectedAccountID, newAccountID string, adminType *models.AdminType) (bool, error)
	ReassignAllFromAccount(ctx context.Context, fromAccountID, toAccountID string) (int64, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Save(ctx context.Context, entity *models.AuditLog) error
	ByFilter(ctx context.Context, filter models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error)
}

// TxManager runs fn inside a single transaction carried by the context
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}
