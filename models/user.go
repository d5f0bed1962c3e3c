package models

import (
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type AdminType string

const (
	AdminTypeLimited   AdminType = "limited"
	AdminTypeUnlimited AdminType = "unlimited"
)

func (t AdminType) Valid() bool {
	return t == AdminTypeLimited || t == AdminTypeUnlimited
}

// User sources
const (
	UserSourceLocal  = "local"
	UserSourceLegacy = "legacy"
)

type User struct {
	ID           string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	FirstName    string     `gorm:"size:255;not null" json:"first_name"`
	LastName     string     `gorm:"size:255;not null" json:"last_name"`
	Email        string     `gorm:"size:255;not null;uniqueIndex:uk_users_email" json:"email"`
	Phone        string     `gorm:"size:32;index:idx_users_phone" json:"phone"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	Role         Role       `gorm:"type:varchar(16);not null;index:idx_users_role" json:"role"`
	AdminType    *AdminType `gorm:"type:varchar(16)" json:"admin_type,omitempty"`
	AccountID    string     `gorm:"type:varchar(64);not null;index:idx_users_account_id" json:"account_id"`
	Account      *Account   `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
	ExternalID   *string    `gorm:"size:128;index:idx_users_external_id" json:"external_id,omitempty"`
	Source       string     `gorm:"size:16;not null;default:'local'" json:"source"`
	CreatedAt    time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsUnlimitedAdmin() bool {
	return u.IsAdmin() && u.AdminType != nil && *u.AdminType == AdminTypeUnlimited
}

// UserFilter represents filter criteria for user queries
type UserFilter struct {
	ID         *string
	IDs        []string
	Email      *string
	Emails     []string
	Role       *Role
	AccountID  *string
	AccountIDs []string
	Source     *string
}
