package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ActorID      *string         `gorm:"type:varchar(64);index:idx_audit_actor_id" json:"actor_id,omitempty"`
	Action       string          `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	TargetID     *string         `gorm:"type:varchar(64);index:idx_audit_target_id" json:"target_id,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	SkippedIDs   pq.StringArray  `gorm:"type:text[]" json:"skipped_ids,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionAccountCreated  = "account_created"
	AuditActionAccountEdited   = "account_edited"
	AuditActionAccountDeleted  = "account_deleted"
	AuditActionUsersAssigned   = "users_assigned"
	AuditActionUserCreated     = "user_created"
	AuditActionLoginSuccessful = "login_successful"
	AuditActionLoginFailed     = "login_failed"
	AuditActionLogout          = "logout"
	AuditActionReconciled      = "reconciled"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ActorID       *string
	Action        *string
	TargetID      *string
	Success       *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
