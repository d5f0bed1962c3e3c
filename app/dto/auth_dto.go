package dto

import "time"

// LoginRequest represents the auth.login payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=1,max=100"`
}

// LoginResponse carries the issued credential
type LoginResponse struct {
	Credential string    `json:"credential"`
	TokenType  string    `json:"token_type"`
	ExpiresIn  int       `json:"expires_in"`
	ExpiresAt  time.Time `json:"expires_at"`
	User       UserDTO   `json:"user"`
}

// LogoutResponse is sent right before the connection is closed
type LogoutResponse struct {
	Revoked bool `json:"revoked"`
}
