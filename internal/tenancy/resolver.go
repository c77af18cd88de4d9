package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
)

// Resolution is the outcome of one membership-resolution pass: the ordered set
// of organizations the principal may select as current, the role map, and, for
// platform admins, the full organization directory.
type Resolution struct {
	Principal     Principal
	Organizations []models.Organization
	Roles         map[uuid.UUID]models.Role
	MasterOrgID   uuid.UUID
	Directory     []models.Organization
}

// OrganizationByID returns the org from the accessible set, or nil.
func (r *Resolution) OrganizationByID(id uuid.UUID) *models.Organization {
	for i := range r.Organizations {
		if r.Organizations[i].ID == id {
			return &r.Organizations[i]
		}
	}
	return nil
}

// DirectoryOrganization returns the org from the full directory, or nil. The
// directory is only populated for master-org admins.
func (r *Resolution) DirectoryOrganization(id uuid.UUID) *models.Organization {
	for i := range r.Directory {
		if r.Directory[i].ID == id {
			return &r.Directory[i]
		}
	}
	return nil
}

// IsMasterAdmin reports whether the principal holds owner/admin in the master
// organization.
func (r *Resolution) IsMasterAdmin() bool {
	if r.MasterOrgID == uuid.Nil {
		return false
	}
	return r.Roles[r.MasterOrgID].AtLeast(models.RoleAdmin)
}

// Resolver loads a principal's memberships and produces the accessible
// organization set, performing domain auto-join when the principal has none.
type Resolver struct {
	gw     directory.Gateway
	logger *slog.Logger
}

func NewResolver(gw directory.Gateway, logger *slog.Logger) *Resolver {
	return &Resolver{gw: gw, logger: logger}
}

// Resolve runs one resolution pass. Any store failure aborts the whole pass
// with a typed error so callers drop cached sets instead of serving stale
// access. An empty outcome is success; routing to onboarding is the caller's
// business.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (*Resolution, error) {
	if p.ID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	memberships, err := r.gw.MembershipsByPrincipal(ctx, p.ID)
	if err != nil {
		return nil, storeErr("loading memberships", err)
	}

	if len(memberships) == 0 {
		memberships, err = r.autoJoin(ctx, p)
		if err != nil {
			return nil, err
		}
	}

	res := &Resolution{
		Principal: p,
		Roles:     make(map[uuid.UUID]models.Role, len(memberships)),
	}

	for _, m := range memberships {
		if m.Organization == nil {
			// Membership pointing at a removed org: drop it rather than trust
			// the stale identifier.
			r.logger.Warn("membership references missing organization",
				"principal_id", p.ID, "organization_id", m.OrganizationID)
			continue
		}
		res.Organizations = append(res.Organizations, *m.Organization)
		res.Roles[m.OrganizationID] = m.Role
	}

	// Deterministic order: by name, then id. Initial selection and the UI's
	// org switcher both depend on this being stable.
	sort.Slice(res.Organizations, func(i, j int) bool {
		a, b := res.Organizations[i], res.Organizations[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})

	master, err := r.gw.MasterOrganization(ctx)
	switch {
	case errors.Is(err, directory.ErrNoMasterOrganization):
		// No platform org configured; nothing to impersonate.
	case err != nil:
		return nil, storeErr("loading master organization", err)
	default:
		res.MasterOrgID = master.ID
		if res.Roles[master.ID].AtLeast(models.RoleAdmin) {
			all, err := r.gw.AllOrganizations(ctx)
			if err != nil {
				return nil, storeErr("loading organization directory", err)
			}
			res.Directory = all
		}
	}

	return res, nil
}

// autoJoin enrolls a membership-less principal into the single organization
// that auto-joins their email domain, then re-queries. Creation and re-query
// are one logical step: a creation failure is a resolution failure, never a
// false "no org" outcome.
func (r *Resolver) autoJoin(ctx context.Context, p Principal) ([]models.Membership, error) {
	domain := p.EmailDomain()
	if domain == "" {
		return nil, nil
	}

	candidates, err := r.gw.AutoJoinCandidates(ctx, domain)
	if err != nil {
		return nil, storeErr("loading auto-join candidates", err)
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		// fall through
	default:
		return nil, fmt.Errorf("%w: domain %q matches %d organizations",
			ErrAmbiguousAutoJoin, domain, len(candidates))
	}

	m := models.Membership{
		OrganizationID: candidates[0].ID,
		PrincipalID:    p.ID,
		Role:           models.RoleMember,
	}
	if err := r.gw.CreateMembership(ctx, &m); err != nil {
		return nil, storeErr("creating auto-join membership", err)
	}

	r.logger.Info("domain auto-join",
		"principal_id", p.ID,
		"organization_id", candidates[0].ID,
		"domain", domain,
	)

	memberships, err := r.gw.MembershipsByPrincipal(ctx, p.ID)
	if err != nil {
		return nil, storeErr("re-querying memberships after auto-join", err)
	}
	return memberships, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, directory.ErrDuplicateMembership) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDirectoryUnavailable, op, err)
}
