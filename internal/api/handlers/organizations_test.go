package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hugh/dashtenant/internal/api/dto"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/tenancy"
	"github.com/hugh/dashtenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrganizations(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/", nil, tc.UserToken))
	require.Equal(t, http.StatusOK, rr.Code)

	var orgs []models.Organization
	testutil.ParseJSONResponse(t, rr, &orgs)
	require.Len(t, orgs, 1)
	assert.Equal(t, tc.Tenant.ID, orgs[0].ID)
}

func TestOrganizationDirectory(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	t.Run("forbidden for tenant members", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/directory", nil, tc.UserToken))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("platform admin sees every org", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/directory", nil, tc.AdminToken))
		require.Equal(t, http.StatusOK, rr.Code)

		var orgs []models.Organization
		testutil.ParseJSONResponse(t, rr, &orgs)
		assert.Len(t, orgs, 2)
	})
}

func TestUpdateOrganizationConfig(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	t.Run("platform admin updates a tenant", func(t *testing.T) {
		cfg := tc.Tenant.Config
		cfg.PIIMasking = true
		req := dto.UpdateConfigRequest{Config: cfg}

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "PUT", "/api/v1/organizations/"+tc.Tenant.ID.String()+"/config", req, tc.AdminToken))
		require.Equal(t, http.StatusOK, rr.Code)

		stored, err := tc.Gateway.OrganizationByID(testutil.TestContext(t), tc.Tenant.ID)
		require.NoError(t, err)
		assert.True(t, stored.Config.PIIMasking)
	})

	t.Run("member denied", func(t *testing.T) {
		req := dto.UpdateConfigRequest{Config: tc.Tenant.Config}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "PUT", "/api/v1/organizations/"+tc.Tenant.ID.String()+"/config", req, tc.UserToken))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		req := dto.UpdateConfigRequest{Config: tc.Tenant.Config}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "PUT", "/api/v1/organizations/nope/config", req, tc.AdminToken))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestInvitationFlow(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	invitee := testutil.CreateTestUser(t, tc.DB, "hire@acme.test")
	inviteeToken := testutil.GenerateTestToken(t, tc.JWTService, invitee)

	t.Run("member cannot invite", func(t *testing.T) {
		req := dto.InviteRequest{Email: invitee.Email}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "POST", "/api/v1/organizations/"+tc.Tenant.ID.String()+"/invitations", req, tc.UserToken))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("platform admin invites into a tenant", func(t *testing.T) {
		req := dto.InviteRequest{Email: invitee.Email, Role: "admin"}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "POST", "/api/v1/organizations/"+tc.Tenant.ID.String()+"/invitations", req, tc.AdminToken))
		require.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("invitee accepts", func(t *testing.T) {
		// The token never leaves the server in responses; in production it
		// travels by email. Read it back from the store.
		var inv models.Invitation
		require.NoError(t, tc.DB.First(&inv, "email = ?", invitee.Email).Error)

		req := dto.AcceptInvitationRequest{Token: inv.Token}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "POST", "/api/v1/invitations/accept", req, inviteeToken))
		require.Equal(t, http.StatusCreated, rr.Code)

		var m models.Membership
		testutil.ParseJSONResponse(t, rr, &m)
		assert.Equal(t, tc.Tenant.ID, m.OrganizationID)
		assert.Equal(t, models.RoleAdmin, m.Role)

		// The session picks the new membership up immediately.
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "GET", "/api/v1/session/", nil, inviteeToken))
		require.Equal(t, http.StatusOK, rr.Code)
		var snap tenancy.Snapshot
		testutil.ParseJSONResponse(t, rr, &snap)
		require.NotNil(t, snap.CurrentOrganization)
		assert.Equal(t, tc.Tenant.ID, snap.CurrentOrganization.ID)
	})

	t.Run("unknown token", func(t *testing.T) {
		req := dto.AcceptInvitationRequest{Token: "bogus"}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "POST", "/api/v1/invitations/accept", req, inviteeToken))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("expired invitation", func(t *testing.T) {
		late := testutil.CreateTestUser(t, tc.DB, "late@acme.test")
		lateToken := testutil.GenerateTestToken(t, tc.JWTService, late)
		inv := &models.Invitation{
			OrganizationID: tc.Tenant.ID,
			Email:          late.Email,
			Role:           models.RoleMember,
			Token:          "tok-too-late",
			ExpiresAt:      time.Now().Add(-time.Hour),
		}
		require.NoError(t, tc.DB.Create(inv).Error)

		req := dto.AcceptInvitationRequest{Token: inv.Token}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, "POST", "/api/v1/invitations/accept", req, lateToken))
		assert.Equal(t, http.StatusGone, rr.Code)
	})
}
