package utils

import (
	"context"
	"time"
)

// Token constants
const (
	// AccessTokenTTL is the default lifetime of an issued admin credential
	AccessTokenTTL = 1 * time.Hour

	TokenTypeBearer = "Bearer"
)

// HTTP constants
const (
	// CORSMaxAge is how long browsers may cache a preflight response, in seconds
	CORSMaxAge = 86400
)

// Reconciliation constants
const (
	// MaxAncestryDepth bounds every walk up the account tree
	MaxAncestryDepth = 32

	LegacyAdminIDPrefix = "admin-"
	LegacyUserIDPrefix  = "user-"
)

// Cache keys, prefixed with the configured redis prefix
const (
	ReconcileLockKey   = "reconcile:lock"
	RevokedTokenPrefix = "revoked:"
)

// Context keys for request-scoped values
type contextKey string

const (
	RequestIDKey    contextKey = "request_id"
	ConnectionIDKey contextKey = "connection_id"
	IPAddressKey    contextKey = "ip_address"
	ActionKey       contextKey = "action"
)

// RequestIDFromContext returns the request id stored on ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
