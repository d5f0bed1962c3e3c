package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/amirphl/orgsync/models"
	testingutil "github.com/amirphl/orgsync/testing"
	"github.com/amirphl/orgsync/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func withTestDB(t *testing.T, fn func(t *testing.T, db *testingutil.TestDB)) {
	t.Helper()
	if !testingutil.Enabled() {
		t.Skip("TEST_DB_HOST not set")
	}
	err := testingutil.TestWithDB(func(db *testingutil.TestDB) error {
		fn(t, db)
		return nil
	})
	require.NoError(t, err)
}

func TestIntegration_AccountHierarchy(t *testing.T) {
	withTestDB(t, func(t *testing.T, db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(db)
		repo := NewAccountRepository(db.DB)

		root, err := fixtures.CreateTestAccount(models.AccountTypeMain, nil)
		require.NoError(t, err)
		region, err := fixtures.CreateTestAccount(models.AccountTypeRegional, root)
		require.NoError(t, err)
		_, err = fixtures.CreateTestAccount(models.AccountTypeBranch, region)
		require.NoError(t, err)
		_, err = fixtures.CreateTestAccount(models.AccountTypeDepartment, region)
		require.NoError(t, err)

		t.Run("ByIDNotFound", func(t *testing.T) {
			missing, err := repo.ByID(ctx, uuid.NewString())
			require.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("MinLevel", func(t *testing.T) {
			count, err := repo.Count(ctx, models.AccountFilter{MinLevel: utils.ToPtr(models.AccountTypeBranch.Level())})
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})

		t.Run("ReparentChildren", func(t *testing.T) {
			moved, err := repo.ReparentChildren(ctx, region.ID, root.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), moved)

			children, err := repo.ByFilter(ctx, models.AccountFilter{ParentID: &root.ID}, "", 0, 0)
			require.NoError(t, err)
			assert.Len(t, children, 3)
		})

		t.Run("DeleteMissing", func(t *testing.T) {
			err := repo.Delete(ctx, uuid.NewString())
			assert.True(t, IsNotFound(err))
		})

		t.Run("ExternalKeyUnique", func(t *testing.T) {
			key := "org-" + uuid.NewString()
			require.NoError(t, repo.Save(ctx, &models.Account{ID: uuid.NewString(), ExternalKey: &key, Name: "A", Type: models.AccountTypeMain}))
			err := repo.Save(ctx, &models.Account{ID: uuid.NewString(), ExternalKey: &key, Name: "B", Type: models.AccountTypeMain})
			assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

			found, err := repo.ByExternalKey(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "A", found.Name)
		})
	})
}

func TestIntegration_UserAffiliation(t *testing.T) {
	withTestDB(t, func(t *testing.T, db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(db)
		repo := NewUserRepository(db.DB)

		root, err := fixtures.CreateTestAccount(models.AccountTypeMain, nil)
		require.NoError(t, err)
		branch, err := fixtures.CreateTestAccount(models.AccountTypeBranch, root)
		require.NoError(t, err)
		user, err := fixtures.CreateTestUser(root)
		require.NoError(t, err)
		admin, err := fixtures.CreateTestAdmin(root, models.AdminTypeLimited)
		require.NoError(t, err)

		t.Run("ByEmailIgnoresCase", func(t *testing.T) {
			found, err := repo.ByEmail(ctx, "  "+strings.ToUpper(admin.Email)+" ")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, admin.ID, found.ID)
			assert.True(t, found.IsAdmin())
			assert.False(t, found.IsUnlimitedAdmin())
		})

		t.Run("ReassignAccountIsConditional", func(t *testing.T) {
			changed, err := repo.ReassignAccount(ctx, user.ID, branch.ID, root.ID, nil)
			require.NoError(t, err)
			assert.False(t, changed)

			changed, err = repo.ReassignAccount(ctx, user.ID, root.ID, branch.ID, nil)
			require.NoError(t, err)
			assert.True(t, changed)

			moved, err := repo.ByID(ctx, user.ID)
			require.NoError(t, err)
			assert.Equal(t, branch.ID, moved.AccountID)
		})

		t.Run("ReassignAllFromAccount", func(t *testing.T) {
			moved, err := repo.ReassignAllFromAccount(ctx, branch.ID, root.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), moved)

			count, err := repo.Count(ctx, models.UserFilter{AccountID: &root.ID})
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})
	})
}

func TestIntegration_TransactionRollback(t *testing.T) {
	withTestDB(t, func(t *testing.T, db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		accounts := NewAccountRepository(db.DB)
		audits := NewAuditLogRepository(db.DB)
		tx := NewTxManager(db.DB)

		id := uuid.NewString()
		boom := errors.New("boom")
		err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := accounts.Save(txCtx, &models.Account{ID: id, Name: "Rolled back", Type: models.AccountTypeMain}); err != nil {
				return err
			}
			if err := audits.Save(txCtx, &models.AuditLog{Action: models.AuditActionAccountCreated, TargetID: &id, SkippedIDs: []string{"x"}}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		missing, err := accounts.ByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, missing)

		logs, err := audits.ByFilter(ctx, models.AuditLogFilter{TargetID: &id}, "", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
