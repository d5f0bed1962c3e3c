// Package businessflow contains the core business logic: permissions, account lifecycle and reconciliation
package businessflow

import (
	"context"
	"encoding/json"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
)

// ClientMetadata holds connection information for audit logging
type ClientMetadata struct {
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	RequestID    string `json:"request_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// Actor is an authenticated admin together with the account it belongs to
type Actor struct {
	User    *models.User
	Account *models.Account
}

// IsUnlimitedMainAdmin reports whether the actor is an unlimited admin of a main account
func (a *Actor) IsUnlimitedMainAdmin() bool {
	if a == nil || a.User == nil || a.Account == nil {
		return false
	}
	return a.User.IsUnlimitedAdmin() && a.Account.Type == models.AccountTypeMain
}

func (a *Actor) ID() string {
	if a == nil || a.User == nil {
		return ""
	}
	return a.User.ID
}

func ToAccountDTO(a *models.Account) dto.AccountDTO {
	return dto.AccountDTO{
		ID:             a.ID,
		Name:           a.Name,
		Description:    a.Description,
		Type:           string(a.Type),
		ParentID:       a.ParentID,
		Country:        a.Country,
		PrimaryAdminID: a.PrimaryAdminID,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func ToUserDTO(u *models.User) dto.UserDTO {
	var adminType *string
	if u.AdminType != nil {
		adminType = utils.ToPtr(string(*u.AdminType))
	}
	return dto.UserDTO{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		Phone:      u.Phone,
		Role:       string(u.Role),
		AdminType:  adminType,
		AccountID:  u.AccountID,
		Source:     u.Source,
		ExternalID: u.ExternalID,
		CreatedAt:  u.CreatedAt,
	}
}

func toUserDTOs(users []*models.User) []dto.UserDTO {
	out := make([]dto.UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, ToUserDTO(u))
	}
	return out
}

// createAuditLog stores one audit entry. Inside a transaction it joins it.
func createAuditLog(ctx context.Context, auditRepo repository.AuditLogRepository, actorID, action string, targetID *string, success bool, errMsg *string, skipped []string, meta any, metadata *ClientMetadata) error {
	audit := &models.AuditLog{
		Action:       action,
		TargetID:     targetID,
		Success:      utils.ToPtr(success),
		ErrorMessage: errMsg,
		SkippedIDs:   skipped,
	}
	if actorID != "" {
		audit.ActorID = utils.ToPtr(actorID)
	}
	if metadata != nil && metadata.RequestID != "" {
		audit.RequestID = utils.ToPtr(metadata.RequestID)
	} else if rid := utils.RequestIDFromContext(ctx); rid != "" {
		audit.RequestID = utils.ToPtr(rid)
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			audit.Metadata = b
		}
	}
	return auditRepo.Save(ctx, audit)
}
