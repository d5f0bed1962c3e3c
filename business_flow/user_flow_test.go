package businessflow

import (
	"context"
	"strings"
	"testing"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func validUserRequest() dto.CreateUserRequest {
	return dto.CreateUserRequest{
		FirstName: "Sara",
		LastName:  "Ahmadi",
		Email:     "  Sara.Ahmadi@Example.com ",
		Phone:     "09120000000",
		Role:      "user",
		AccountID: "R",
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture()
	seedOrg(f)

	req := validUserRequest()
	req.Password = "correct-horse"
	resp, err := f.userFlow().CreateUser(context.Background(), f.actor("super"), &req, nil)
	require.NoError(t, err)

	assert.Equal(t, "sara.ahmadi@example.com", resp.User.Email)
	assert.Equal(t, "R", resp.User.AccountID)
	assert.Equal(t, models.UserSourceLocal, resp.User.Source)
	assert.Nil(t, resp.User.AdminType, "plain users carry no admin type")

	stored := f.store.user(resp.User.ID)
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct-horse")))
	assert.Contains(t, f.store.auditActions(), models.AuditActionUserCreated)
}

func TestCreateUserAdminType(t *testing.T) {
	f := newFixture()
	seedOrg(f)

	req := validUserRequest()
	req.Role = "admin"
	resp, err := f.userFlow().CreateUser(context.Background(), f.actor("super"), &req, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.User.AdminType)
	assert.Equal(t, "limited", *resp.User.AdminType)

	req = validUserRequest()
	req.Email = "user-with-type@example.com"
	req.AdminType = "unlimited"
	resp, err = f.userFlow().CreateUser(context.Background(), f.actor("super"), &req, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.User.AdminType, "admin type is ignored for plain users")
}

func TestCreateUserRejections(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		mutate  func(*dto.CreateUserRequest)
		check   func(error) bool
	}{
		{"limited admin", "limited", func(*dto.CreateUserRequest) {}, IsForbidden},
		{"duplicate email ignoring case", "super", func(r *dto.CreateUserRequest) { r.Email = "U1@EXAMPLE.COM" }, IsEmailAlreadyExists},
		{"unknown account", "super", func(r *dto.CreateUserRequest) { r.AccountID = "nope" }, IsNotFound},
		{"unknown role", "super", func(r *dto.CreateUserRequest) { r.Role = "owner" }, IsBadRequest},
		{"unknown admin type", "super", func(r *dto.CreateUserRequest) { r.Role = "admin"; r.AdminType = "root" }, IsBadRequest},
		{"markup only name", "super", func(r *dto.CreateUserRequest) { r.FirstName = "<b></b>" }, IsBadRequest},
		{"password over 72 bytes", "super", func(r *dto.CreateUserRequest) { r.Password = strings.Repeat("ü", 40) }, IsBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			seedOrg(f)
			before := f.store.userCount()

			req := validUserRequest()
			tt.mutate(&req)
			resp, err := f.userFlow().CreateUser(context.Background(), f.actor(tt.actorID), &req, nil)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, tt.check(err), "unexpected error kind %s: %v", KindOf(err), err)
			assert.Equal(t, before, f.store.userCount())
		})
	}
}

func TestCreateUserDuplicateIsConflict(t *testing.T) {
	f := newFixture()
	seedOrg(f)

	req := validUserRequest()
	req.Email = "p@example.com"
	_, err := f.userFlow().CreateUser(context.Background(), f.actor("super"), &req, nil)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "A user with this email already exists", PublicMessage(err))
}
