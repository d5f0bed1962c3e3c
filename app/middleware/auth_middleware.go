// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/gofiber/fiber/v3"
)

// Locals set by UpgradeAuth
const (
	LocalCredential = "credential"
	LocalActorID    = "actor_id"
)

const upgradeAuthTimeout = 5 * time.Second

// AuthMiddleware validates credentials presented on the websocket upgrade request
type AuthMiddleware struct {
	auth businessflow.AuthFlow
}

func NewAuthMiddleware(auth businessflow.AuthFlow) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
	}
}

// UpgradeAuth checks an optional Bearer credential before the upgrade.
// Without a header the connection is anonymous and must send auth.login.
// A header that is present but malformed or invalid is rejected with 401.
func (m *AuthMiddleware) UpgradeAuth() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Next()
		}

		scheme, credential, _ := strings.Cut(strings.TrimSpace(authHeader), " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <credential>'",
				Error:   dto.ErrorDetail{Code: "INVALID_AUTHORIZATION_FORMAT"},
			})
		}

		credential = strings.TrimSpace(credential)
		if credential == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Credential is required",
				Error:   dto.ErrorDetail{Code: "MISSING_CREDENTIAL"},
			})
		}

		ctx, cancel := context.WithTimeout(c.Context(), upgradeAuthTimeout)
		defer cancel()

		actor, err := m.auth.Authenticate(ctx, credential)
		if err != nil {
			status := fiber.StatusInternalServerError
			code := "CREDENTIAL_CHECK_FAILED"
			if businessflow.IsUnauthorized(err) {
				status = fiber.StatusUnauthorized
				code = "CREDENTIAL_REJECTED"
			}
			var be *businessflow.BusinessError
			if errors.As(err, &be) {
				code = be.Code
			}
			return c.Status(status).JSON(dto.APIResponse{
				Success: false,
				Message: businessflow.PublicMessage(err),
				Error:   dto.ErrorDetail{Code: code},
			})
		}

		c.Locals(LocalCredential, credential)
		c.Locals(LocalActorID, actor.ID())
		return c.Next()
	}
}
