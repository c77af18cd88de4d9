package tenancy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"github.com/hugh/dashtenant/internal/tenancy"
	"github.com/hugh/dashtenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principalFor(u *models.User) tenancy.Principal {
	return tenancy.Principal{ID: u.ID, Email: u.Email}
}

func TestResolver_MembershipsAndRoles(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	resolver := tenancy.NewResolver(tc.Gateway, testutil.DiscardLogger())

	res, err := resolver.Resolve(testutil.TestContext(t), principalFor(tc.Member))
	require.NoError(t, err)

	require.Len(t, res.Organizations, 1)
	assert.Equal(t, tc.Tenant.ID, res.Organizations[0].ID)
	assert.Equal(t, models.RoleMember, res.Roles[tc.Tenant.ID])
	assert.False(t, res.IsMasterAdmin())
	assert.Empty(t, res.Directory, "tenant members never get the full directory")
}

func TestResolver_MasterAdminGetsFullDirectory(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	resolver := tenancy.NewResolver(tc.Gateway, testutil.DiscardLogger())

	res, err := resolver.Resolve(testutil.TestContext(t), principalFor(tc.Admin))
	require.NoError(t, err)

	assert.True(t, res.IsMasterAdmin())
	assert.Equal(t, tc.MasterOrg.ID, res.MasterOrgID)
	require.Len(t, res.Directory, 2, "directory holds every organization")
}

func TestResolver_DeterministicOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)

	user := testutil.CreateTestUser(t, db, "multi@example.com")
	for _, name := range []string{"Zeta", "Alpha", "Midway"} {
		org := testutil.CreateTestOrg(t, db, name)
		testutil.CreateMembership(t, db, org, user, models.RoleMember)
	}

	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())
	res, err := resolver.Resolve(testutil.TestContext(t), principalFor(user))
	require.NoError(t, err)

	require.Len(t, res.Organizations, 3)
	assert.Equal(t, "Alpha", res.Organizations[0].Name)
	assert.Equal(t, "Midway", res.Organizations[1].Name)
	assert.Equal(t, "Zeta", res.Organizations[2].Name)
}

func TestResolver_DomainAutoJoin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)

	org := testutil.CreateTestOrg(t, db, "Acme")
	require.NoError(t, db.Model(org).Updates(map[string]interface{}{
		"domain_auto_join_enabled": true,
		"allowed_domains":          models.StringArray{"acme.com"},
	}).Error)

	user := testutil.CreateTestUser(t, db, "new.joiner@acme.com")

	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())
	res, err := resolver.Resolve(testutil.TestContext(t), principalFor(user))
	require.NoError(t, err)

	require.Len(t, res.Organizations, 1)
	assert.Equal(t, org.ID, res.Organizations[0].ID)
	assert.Equal(t, models.RoleMember, res.Roles[org.ID], "auto-join always grants member")

	// The membership row really exists.
	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("organization_id = ? AND principal_id = ?", org.ID, user.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestResolver_AutoJoinWrongDomain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)

	org := testutil.CreateTestOrg(t, db, "Acme")
	require.NoError(t, db.Model(org).Updates(map[string]interface{}{
		"domain_auto_join_enabled": true,
		"allowed_domains":          models.StringArray{"acme.com"},
	}).Error)

	user := testutil.CreateTestUser(t, db, "visitor@other.com")

	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())
	res, err := resolver.Resolve(testutil.TestContext(t), principalFor(user))
	require.NoError(t, err)
	assert.Empty(t, res.Organizations, "no auto-join for foreign domains")
}

func TestResolver_AmbiguousAutoJoinRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)

	for _, name := range []string{"Acme East", "Acme West"} {
		org := testutil.CreateTestOrg(t, db, name)
		require.NoError(t, db.Model(org).Updates(map[string]interface{}{
			"domain_auto_join_enabled": true,
			"allowed_domains":          models.StringArray{"acme.com"},
		}).Error)
	}

	user := testutil.CreateTestUser(t, db, "torn@acme.com")

	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())
	_, err := resolver.Resolve(testutil.TestContext(t), principalFor(user))
	assert.ErrorIs(t, err, tenancy.ErrAmbiguousAutoJoin)

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).Where("principal_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count, "no membership created on ambiguity")
}

func TestResolver_UnauthenticatedPrincipal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	gw := testutil.NewTestGateway(t, db)

	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())
	_, err := resolver.Resolve(testutil.TestContext(t), tenancy.Principal{})
	assert.ErrorIs(t, err, tenancy.ErrUnauthenticated)
}

// failingGateway wraps a real gateway and fails membership queries.
type failingGateway struct {
	directory.Gateway
	err error
}

func (g *failingGateway) MembershipsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]models.Membership, error) {
	return nil, g.err
}

func TestResolver_StoreFailureIsTyped(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	gw := &failingGateway{Gateway: tc.Gateway, err: errors.New("connection refused")}
	resolver := tenancy.NewResolver(gw, testutil.DiscardLogger())

	_, err := resolver.Resolve(testutil.TestContext(t), principalFor(tc.Member))
	assert.ErrorIs(t, err, tenancy.ErrDirectoryUnavailable)
}
