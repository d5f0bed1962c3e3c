package dto

import "time"

// AccountDTO is the public view of an account
type AccountDTO struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Type           string    `json:"type"`
	ParentID       *string   `json:"parent_id"`
	Country        string    `json:"country"`
	PrimaryAdminID *string   `json:"primary_admin_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateAccountRequest represents the accounts.create payload
type CreateAccountRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=255"`
	Description    string   `json:"description" validate:"omitempty,max=2000"`
	Type           string   `json:"type" validate:"required,oneof=main institutional regional district branch department"`
	ParentID       string   `json:"parent_id" validate:"required,max=64"`
	Country        string   `json:"country" validate:"omitempty,max=128"`
	PrimaryAdminID string   `json:"primary_admin_id" validate:"required,max=64"`
	AdminType      string   `json:"admin_type" validate:"omitempty,oneof=limited unlimited"`
	AdminIDs       []string `json:"admin_ids" validate:"omitempty,max=500,dive,required,max=64"`
	UserIDs        []string `json:"user_ids" validate:"omitempty,max=500,dive,required,max=64"`
}

// CreateAccountResponse returns the new account and everyone moved into it.
// Skipped ids did not pass the role or ownership filter.
type CreateAccountResponse struct {
	Account         AccountDTO `json:"account"`
	PrimaryAdmin    UserDTO    `json:"primary_admin"`
	Admins          []UserDTO  `json:"admins"`
	Users           []UserDTO  `json:"users"`
	SkippedAdminIDs []string   `json:"skipped_admin_ids"`
	SkippedUserIDs  []string   `json:"skipped_user_ids"`
}

// EditAccountRequest represents the accounts.edit payload. Nil fields are left untouched.
type EditAccountRequest struct {
	AccountID      string  `json:"account_id" validate:"required,max=64"`
	Name           *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description    *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Country        *string `json:"country,omitempty" validate:"omitempty,max=128"`
	PrimaryAdminID *string `json:"primary_admin_id,omitempty" validate:"omitempty,max=64"`
}

type EditAccountResponse struct {
	Account AccountDTO `json:"account"`
}

// DeleteAccountRequest represents the accounts.delete payload
type DeleteAccountRequest struct {
	AccountID string `json:"account_id" validate:"required,max=64"`
}

type DeleteAccountResponse struct {
	AccountID          string  `json:"account_id"`
	ReassignedTo       *string `json:"reassigned_to"`
	ReassignedUsers    int64   `json:"reassigned_users"`
	ReparentedChildren int64   `json:"reparented_children"`
}

// AssignUsersRequest represents the accounts.assignUsers payload
type AssignUsersRequest struct {
	AccountID string   `json:"account_id" validate:"required,max=64"`
	UserIDs   []string `json:"user_ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

type AssignUsersResponse struct {
	AccountID      string    `json:"account_id"`
	Assigned       []UserDTO `json:"assigned"`
	SkippedUserIDs []string  `json:"skipped_user_ids"`
}

type GetAccountsResponse struct {
	Accounts []AccountDTO `json:"accounts"`
}

// OrganizationAccountDTO is one node of the organization view with its members split by role
type OrganizationAccountDTO struct {
	Account AccountDTO `json:"account"`
	Admins  []UserDTO  `json:"admins"`
	Users   []UserDTO  `json:"users"`
}

// OrganizationUsersResponse is the accounts.getOrganizationUsers result
type OrganizationUsersResponse struct {
	MainAccount AccountDTO               `json:"main_account"`
	Accounts    []OrganizationAccountDTO `json:"accounts"`
	TotalAdmins int                      `json:"total_admins"`
	TotalUsers  int                      `json:"total_users"`
	Sync        SyncSummaryDTO           `json:"sync"`
}

// SyncSummaryDTO describes what a reconciliation run did
type SyncSummaryDTO struct {
	Skipped              bool      `json:"skipped"`
	MainAccountID        string    `json:"main_account_id,omitempty"`
	AdminsFetched        int       `json:"admins_fetched"`
	SchedulesFetched     int       `json:"schedules_fetched"`
	AttendeesFetched     int       `json:"attendees_fetched"`
	UniqueAttendees      int       `json:"unique_attendees"`
	AdminsCreated        int       `json:"admins_created"`
	UsersCreated         int       `json:"users_created"`
	ExistingSkipped      int       `json:"existing_skipped"`
	InvalidSkipped       int       `json:"invalid_skipped"`
	ScheduleFetchFailed  bool      `json:"schedule_fetch_failed"`
	AttendanceFailures   int       `json:"attendance_failures"`
	StartedAt            time.Time `json:"started_at"`
	DurationMilliseconds int64     `json:"duration_ms"`
}
