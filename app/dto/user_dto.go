package dto

import "time"

// UserDTO is the public view of a user. Password hashes never leave the store.
type UserDTO struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Role       string    `json:"role"`
	AdminType  *string   `json:"admin_type,omitempty"`
	AccountID  string    `json:"account_id"`
	Source     string    `json:"source"`
	ExternalID *string   `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateUserRequest represents the users.create payload
type CreateUserRequest struct {
	FirstName string `json:"first_name" validate:"required,max=255"`
	LastName  string `json:"last_name" validate:"required,max=255"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Role      string `json:"role" validate:"required,oneof=admin user"`
	AdminType string `json:"admin_type" validate:"omitempty,oneof=limited unlimited"`
	AccountID string `json:"account_id" validate:"required,max=64"`
	Password  string `json:"password" validate:"omitempty,min=8,max=72"`
}

type CreateUserResponse struct {
	User UserDTO `json:"user"`
}
