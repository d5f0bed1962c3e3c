package testing

import (
	"fmt"

	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TestPassword is the plain password of every fixture admin
const TestPassword = "TestPass123!"

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestAccount creates an account of the given type under parent (nil for a root)
func (tf *TestFixtures) CreateTestAccount(typ models.AccountType, parent *models.Account) (*models.Account, error) {
	account := &models.Account{
		ID:   uuid.NewString(),
		Name: fmt.Sprintf("%s %s", typ, uuid.NewString()[:8]),
		Type: typ,
	}
	if parent != nil {
		account.ParentID = utils.ToPtr(parent.ID)
	}
	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test account: %w", err)
	}
	return account, nil
}

// CreateTestUser creates a plain user in account
func (tf *TestFixtures) CreateTestUser(account *models.Account) (*models.User, error) {
	id := uuid.NewString()
	user := &models.User{
		ID:        id,
		FirstName: "Test",
		LastName:  "User",
		Email:     fmt.Sprintf("user-%s@example.com", id[:8]),
		Role:      models.RoleUser,
		AccountID: account.ID,
		Source:    models.UserSourceLocal,
	}
	if err := tf.DB.DB.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create test user: %w", err)
	}
	return user, nil
}

// CreateTestAdmin creates an admin of the given type in account with TestPassword
func (tf *TestFixtures) CreateTestAdmin(account *models.Account, adminType models.AdminType) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id := uuid.NewString()
	admin := &models.User{
		ID:           id,
		FirstName:    "Test",
		LastName:     "Admin",
		Email:        fmt.Sprintf("admin-%s@example.com", id[:8]),
		PasswordHash: string(hashedPassword),
		Role:         models.RoleAdmin,
		AdminType:    utils.ToPtr(adminType),
		AccountID:    account.ID,
		Source:       models.UserSourceLocal,
	}
	if err := tf.DB.DB.Create(admin).Error; err != nil {
		return nil, fmt.Errorf("failed to create test admin: %w", err)
	}
	return admin, nil
}
