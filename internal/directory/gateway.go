package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrNoMasterOrganization = errors.New("no master organization")
	ErrMasterExists         = errors.New("a master organization already exists")
	ErrDuplicateMembership  = errors.New("membership already exists")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationExpired    = errors.New("invitation has expired")
)

// ChangeEvent is pushed whenever the directory mutates. Consumers must
// re-resolve rather than patch fields from the event.
type ChangeEvent struct {
	Kind           string    `json:"kind"` // organization, membership, invitation
	OrganizationID uuid.UUID `json:"organization_id"`
}

// Gateway is the typed wrapper around the tenant directory store. All methods
// return typed errors; they never block past ctx.
type Gateway interface {
	MembershipsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]models.Membership, error)
	OrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Organization, error)
	OrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	MasterOrganization(ctx context.Context) (*models.Organization, error)
	AllOrganizations(ctx context.Context) ([]models.Organization, error)
	AutoJoinCandidates(ctx context.Context, domain string) ([]models.Organization, error)

	CreateMembership(ctx context.Context, m *models.Membership) error
	CreateOrganizationWithOwner(ctx context.Context, org *models.Organization, ownerID uuid.UUID) error
	UpdateOrganizationConfig(ctx context.Context, orgID uuid.UUID, cfg models.OrganizationConfig) error

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	InvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	AcceptInvitation(ctx context.Context, token string, principalID uuid.UUID) (*models.Membership, error)
	ExpireInvitations(ctx context.Context, now time.Time) (int64, error)

	// Watch delivers change events until ctx is done.
	Watch(ctx context.Context) <-chan ChangeEvent
}
