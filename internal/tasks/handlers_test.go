package tasks_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/tasks"
	"github.com/hugh/dashtenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInvitationExpiry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)
	handler := tasks.NewHandler(db, gw, testutil.DiscardLogger())
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	stale := &models.Invitation{OrganizationID: org.ID, Email: "old@acme.test", Role: models.RoleMember, Token: "tok-old", ExpiresAt: time.Now().Add(-time.Hour)}
	fresh := &models.Invitation{OrganizationID: org.ID, Email: "new@acme.test", Role: models.RoleMember, Token: "tok-new", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(fresh).Error)

	task, err := tasks.NewInvitationExpiryTask(tasks.InvitationExpiryPayload{BatchNote: "test"})
	require.NoError(t, err)
	require.NoError(t, handler.HandleInvitationExpiry(ctx, task))

	var count int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "only the stale invitation is swept")
}

func TestHandleDirectoryAudit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)
	handler := tasks.NewHandler(db, gw, testutil.DiscardLogger())
	ctx := testutil.TestContext(t)

	task, err := tasks.NewDirectoryAuditTask(tasks.DirectoryAuditPayload{})
	require.NoError(t, err)

	org := testutil.CreateTestOrg(t, db, "Acme")
	user := testutil.CreateTestUser(t, db, "a@acme.test")
	testutil.CreateMembership(t, db, org, user, models.RoleMember)

	t.Run("clean directory passes", func(t *testing.T) {
		assert.NoError(t, handler.HandleDirectoryAudit(ctx, task))
	})

	t.Run("orphaned membership fails", func(t *testing.T) {
		orphan := &models.Membership{OrganizationID: uuid.New(), PrincipalID: user.ID, Role: models.RoleMember}
		require.NoError(t, db.Create(orphan).Error)
		defer db.Delete(orphan)

		assert.Error(t, handler.HandleDirectoryAudit(ctx, task))
	})

	t.Run("multiple masters fail", func(t *testing.T) {
		first := testutil.CreateMasterOrg(t, db)
		second := testutil.CreateTestOrg(t, db, "Rogue HQ")
		require.NoError(t, db.Model(second).Update("is_master", true).Error)

		assert.Error(t, handler.HandleDirectoryAudit(ctx, task))

		require.NoError(t, db.Model(second).Update("is_master", false).Error)
		require.NoError(t, db.Model(first).Update("is_master", false).Error)
	})
}
