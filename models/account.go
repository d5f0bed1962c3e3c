// Package models contains domain entities for the account hierarchy and its users
package models

import (
	"time"
)

// AccountType is the hierarchy level of an account. Lower level means less specific.
type AccountType string

const (
	AccountTypeMain          AccountType = "main"
	AccountTypeInstitutional AccountType = "institutional"
	AccountTypeRegional      AccountType = "regional"
	AccountTypeDistrict      AccountType = "district"
	AccountTypeBranch        AccountType = "branch"
	AccountTypeDepartment    AccountType = "department"
)

var accountTypeLevels = map[AccountType]int{
	AccountTypeMain:          0,
	AccountTypeInstitutional: 1,
	AccountTypeRegional:      2,
	AccountTypeDistrict:      3,
	AccountTypeBranch:        4,
	AccountTypeDepartment:    5,
}

// Level returns the specificity level of the type, or -1 for unknown types
func (t AccountType) Level() int {
	if lvl, ok := accountTypeLevels[t]; ok {
		return lvl
	}
	return -1
}

func (t AccountType) Valid() bool {
	return t.Level() >= 0
}

type Account struct {
	ID             string      `gorm:"type:varchar(64);primaryKey" json:"id"`
	ExternalKey    *string     `gorm:"size:255;uniqueIndex:uk_accounts_external_key" json:"external_key,omitempty"`
	Name           string      `gorm:"size:255;not null" json:"name"`
	Description    string      `gorm:"type:text" json:"description"`
	Type           AccountType `gorm:"type:varchar(32);not null;index:idx_accounts_type" json:"type"`
	ParentID       *string     `gorm:"type:varchar(64);index:idx_accounts_parent_id" json:"parent_id,omitempty"`
	Parent         *Account    `gorm:"foreignKey:ParentID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
	Country        string      `gorm:"size:128" json:"country"`
	PrimaryAdminID *string     `gorm:"type:varchar(64);index:idx_accounts_primary_admin_id" json:"primary_admin_id,omitempty"`
	CreatedAt      time.Time   `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) IsRoot() bool {
	return a.ParentID == nil
}

// AccountFilter represents filter criteria for account queries
type AccountFilter struct {
	ID             *string
	IDs            []string
	ExternalKey    *string
	Type           *AccountType
	ParentID       *string
	PrimaryAdminID *string
	MinLevel       *int
}
