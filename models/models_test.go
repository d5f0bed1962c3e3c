package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountTypeLevel(t *testing.T) {
	ordered := []AccountType{
		AccountTypeMain,
		AccountTypeInstitutional,
		AccountTypeRegional,
		AccountTypeDistrict,
		AccountTypeBranch,
		AccountTypeDepartment,
	}
	for i, typ := range ordered {
		assert.Equal(t, i, typ.Level(), string(typ))
		assert.True(t, typ.Valid())
	}

	assert.Equal(t, -1, AccountType("ministry").Level())
	assert.False(t, AccountType("").Valid())
}

func TestUserRoles(t *testing.T) {
	unlimited := AdminTypeUnlimited
	limited := AdminTypeLimited

	tests := []struct {
		name      string
		user      User
		admin     bool
		unlimited bool
	}{
		{"unlimited admin", User{Role: RoleAdmin, AdminType: &unlimited}, true, true},
		{"limited admin", User{Role: RoleAdmin, AdminType: &limited}, true, false},
		{"admin without type", User{Role: RoleAdmin}, true, false},
		{"plain user", User{Role: RoleUser}, false, false},
		{"user with stray admin type", User{Role: RoleUser, AdminType: &unlimited}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.admin, tt.user.IsAdmin())
			assert.Equal(t, tt.unlimited, tt.user.IsUnlimitedAdmin())
		})
	}

	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("owner").Valid())
	assert.True(t, AdminTypeLimited.Valid())
	assert.False(t, AdminType("").Valid())
}
