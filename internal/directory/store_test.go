package directory_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"github.com/hugh/dashtenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_MembershipsByPrincipal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	user := testutil.CreateTestUser(t, db, "a@acme.test")
	testutil.CreateMembership(t, db, org, user, models.RoleAdmin)

	ms, err := store.MembershipsByPrincipal(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, models.RoleAdmin, ms[0].Role)
	require.NotNil(t, ms[0].Organization, "organization is preloaded")
	assert.Equal(t, org.ID, ms[0].Organization.ID)

	ms, err = store.MembershipsByPrincipal(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestStore_CreateMembershipDuplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	user := testutil.CreateTestUser(t, db, "a@acme.test")

	first := models.Membership{OrganizationID: org.ID, PrincipalID: user.ID, Role: models.RoleMember}
	require.NoError(t, store.CreateMembership(ctx, &first))

	second := models.Membership{OrganizationID: org.ID, PrincipalID: user.ID, Role: models.RoleAdmin}
	err := store.CreateMembership(ctx, &second)
	assert.ErrorIs(t, err, directory.ErrDuplicateMembership)

	// The original role survives a rejected re-grant.
	var stored models.Membership
	require.NoError(t, db.First(&stored, "organization_id = ? AND principal_id = ?", org.ID, user.ID).Error)
	assert.Equal(t, models.RoleMember, stored.Role)
}

func TestStore_CreateOrganizationWithOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	owner := testutil.CreateTestUser(t, db, "founder@example.com")
	org := &models.Organization{Name: "New Venture", Slug: "new-venture"}
	require.NoError(t, store.CreateOrganizationWithOwner(ctx, org, owner.ID))

	var m models.Membership
	require.NoError(t, db.First(&m, "organization_id = ? AND principal_id = ?", org.ID, owner.ID).Error)
	assert.Equal(t, models.RoleOwner, m.Role)
}

func TestStore_SingleMasterOrganization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	_, err := store.MasterOrganization(ctx)
	assert.ErrorIs(t, err, directory.ErrNoMasterOrganization)

	master := testutil.CreateMasterOrg(t, db)
	got, err := store.MasterOrganization(ctx)
	require.NoError(t, err)
	assert.Equal(t, master.ID, got.ID)

	owner := testutil.CreateTestUser(t, db, "op@platform.test")
	second := &models.Organization{Name: "Shadow HQ", Slug: "shadow-hq", IsMaster: true}
	err = store.CreateOrganizationWithOwner(ctx, second, owner.ID)
	assert.ErrorIs(t, err, directory.ErrMasterExists)
}

func TestStore_AutoJoinCandidates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	enabled := testutil.CreateTestOrg(t, db, "Acme")
	require.NoError(t, db.Model(enabled).Updates(map[string]interface{}{
		"domain_auto_join_enabled": true,
		"allowed_domains":          models.StringArray{"acme.com", "acme.io"},
	}).Error)

	// Same domains but the toggle is off.
	disabled := testutil.CreateTestOrg(t, db, "Dormant")
	require.NoError(t, db.Model(disabled).Update("allowed_domains", models.StringArray{"acme.com"}).Error)

	got, err := store.AutoJoinCandidates(ctx, "acme.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, enabled.ID, got[0].ID)

	// Domain matching is case-insensitive.
	got, err = store.AutoJoinCandidates(ctx, "ACME.IO")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = store.AutoJoinCandidates(ctx, "other.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_UpdateOrganizationConfig(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	cfg := org.Config
	cfg.Analytics = false
	cfg.PIIMasking = true
	require.NoError(t, store.UpdateOrganizationConfig(ctx, org.ID, cfg))

	stored, err := store.OrganizationByID(ctx, org.ID)
	require.NoError(t, err)
	assert.False(t, stored.Config.Analytics)
	assert.True(t, stored.Config.PIIMasking)
	assert.True(t, stored.Config.CRM, "untouched toggles keep their values")

	err = store.UpdateOrganizationConfig(ctx, uuid.New(), cfg)
	assert.ErrorIs(t, err, directory.ErrOrganizationNotFound)
}

func TestStore_InvitationLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	invitee := testutil.CreateTestUser(t, db, "new@acme.test")

	inv := &models.Invitation{
		OrganizationID: org.ID,
		Email:          invitee.Email,
		Role:           models.RoleAdmin,
		Token:          "tok-lifecycle",
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	t.Run("lookup by token", func(t *testing.T) {
		got, err := store.InvitationByToken(ctx, "tok-lifecycle")
		require.NoError(t, err)
		assert.Equal(t, invitee.Email, got.Email)
		require.NotNil(t, got.Organization)
		assert.Equal(t, org.Name, got.Organization.Name)

		_, err = store.InvitationByToken(ctx, "no-such-token")
		assert.ErrorIs(t, err, directory.ErrInvitationNotFound)
	})

	t.Run("accept grants invited role", func(t *testing.T) {
		m, err := store.AcceptInvitation(ctx, "tok-lifecycle", invitee.ID)
		require.NoError(t, err)
		assert.Equal(t, org.ID, m.OrganizationID)
		assert.Equal(t, models.RoleAdmin, m.Role)
	})

	t.Run("second accept rejected", func(t *testing.T) {
		_, err := store.AcceptInvitation(ctx, "tok-lifecycle", invitee.ID)
		assert.ErrorIs(t, err, directory.ErrInvitationNotFound)
	})
}

func TestStore_AcceptExpiredInvitation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	user := testutil.CreateTestUser(t, db, "late@acme.test")

	inv := &models.Invitation{
		OrganizationID: org.ID,
		Email:          user.Email,
		Role:           models.RoleMember,
		Token:          "tok-expired",
		ExpiresAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	_, err := store.AcceptInvitation(ctx, "tok-expired", user.ID)
	assert.ErrorIs(t, err, directory.ErrInvitationExpired)

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).Where("principal_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count, "expired invitations never grant access")
}

func TestStore_AcceptIntoExistingMembership(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	user := testutil.CreateTestUser(t, db, "already@acme.test")
	testutil.CreateMembership(t, db, org, user, models.RoleMember)

	inv := &models.Invitation{
		OrganizationID: org.ID,
		Email:          user.Email,
		Role:           models.RoleAdmin,
		Token:          "tok-dupe",
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	_, err := store.AcceptInvitation(ctx, "tok-dupe", user.ID)
	assert.ErrorIs(t, err, directory.ErrDuplicateMembership)

	// The acceptance rolled back: the invitation is still open.
	got, err := store.InvitationByToken(ctx, "tok-dupe")
	require.NoError(t, err)
	assert.Nil(t, got.AcceptedAt)
}

func TestStore_ExpireInvitations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	store := testutil.NewTestGateway(t, db)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, db, "Acme")
	now := time.Now()

	stale := &models.Invitation{OrganizationID: org.ID, Email: "old@acme.test", Role: models.RoleMember, Token: "tok-old", ExpiresAt: now.Add(-time.Hour)}
	fresh := &models.Invitation{OrganizationID: org.ID, Email: "new@acme.test", Role: models.RoleMember, Token: "tok-new", ExpiresAt: now.Add(time.Hour)}
	accepted := &models.Invitation{OrganizationID: org.ID, Email: "done@acme.test", Role: models.RoleMember, Token: "tok-done", ExpiresAt: now.Add(-time.Hour), AcceptedAt: &now}
	for _, inv := range []*models.Invitation{stale, fresh, accepted} {
		require.NoError(t, store.CreateInvitation(ctx, inv))
	}

	removed, err := store.ExpireInvitations(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed, "accepted and unexpired invitations are kept")

	_, err = store.InvitationByToken(ctx, "tok-old")
	assert.ErrorIs(t, err, directory.ErrInvitationNotFound)
	_, err = store.InvitationByToken(ctx, "tok-new")
	assert.NoError(t, err)
}
