package tenancy

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
)

// Snapshot is the session state downstream features read. Emitted to
// subscribers whenever the effective organization or permissions change.
type Snapshot struct {
	CurrentOrganization   *models.Organization  `json:"current_organization"`
	EffectiveOrganization *models.Organization  `json:"effective_organization"`
	Organizations         []models.Organization `json:"organizations"`
	Directory             []models.Organization `json:"directory,omitempty"`
	Role                  models.Role           `json:"role"`
	Permissions           Permissions           `json:"permissions"`
	IsImpersonating       bool                  `json:"is_impersonating"`
	Generation            uint64                `json:"-"`
}

// Session owns the tenant-context state machine for one principal on one
// device. Commands are applied atomically under a single mutex; asynchronous
// resolutions carry a generation token and results stamped with a stale token
// are discarded, never applied. Switching organizations or changing
// impersonation cancels any in-flight resolution for the old context.
type Session struct {
	principal Principal
	deviceID  string

	gw       directory.Gateway
	resolver *Resolver
	store    SessionStore
	logger   *slog.Logger

	mu                sync.Mutex
	res               *Resolution
	currentOrgID      uuid.UUID
	impersonatedOrgID uuid.UUID
	generation        uint64
	inflightCancel    context.CancelFunc
	subs              map[int]chan Snapshot
	nextSub           int
}

func NewSession(p Principal, deviceID string, gw directory.Gateway, resolver *Resolver, store SessionStore, logger *slog.Logger) *Session {
	return &Session{
		principal: p,
		deviceID:  deviceID,
		gw:        gw,
		resolver:  resolver,
		store:     store,
		logger:    logger,
		subs:      make(map[int]chan Snapshot),
	}
}

func (s *Session) Principal() Principal { return s.principal }

// Resolved reports whether the session holds the outcome of a successful
// resolution pass. False before the first pass completes and after a failed
// one; callers holding an unresolved session must re-resolve before serving
// from it, not report its empty state.
func (s *Session) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res != nil
}

// Resolve runs one resolution pass and applies the result unless a newer
// command superseded it in the meantime. On store failure the session fails
// closed: the cached organization set is dropped and permissions fall to
// default-deny.
func (s *Session) Resolve(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.inflightCancel != nil {
		s.inflightCancel()
	}
	rctx, cancel := context.WithCancel(ctx)
	s.inflightCancel = cancel
	p := s.principal
	s.mu.Unlock()

	res, err := s.resolver.Resolve(rctx, p)

	var persisted uuid.UUID
	if err == nil {
		var loadErr error
		persisted, loadErr = s.store.LoadCurrentOrg(rctx, p.ID, s.deviceID)
		if loadErr != nil {
			// Fall through to the default selection rather than failing the pass.
			s.logger.Warn("failed to load persisted organization selection", "error", loadErr)
		}
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		// A newer command or resolution won the race; this result is stale.
		return nil
	}
	s.inflightCancel = nil

	if err != nil {
		s.res = nil
		s.currentOrgID = uuid.Nil
		s.impersonatedOrgID = uuid.Nil
		s.notifyLocked()
		return err
	}

	return s.applyLocked(ctx, res, persisted)
}

// applyLocked installs a resolution: restores or re-selects the current
// organization and revalidates the impersonation overlay against the new
// directory.
func (s *Session) applyLocked(ctx context.Context, res *Resolution, persisted uuid.UUID) error {
	s.res = res

	if len(res.Organizations) == 0 {
		s.currentOrgID = uuid.Nil
		s.impersonatedOrgID = uuid.Nil
		s.notifyLocked()
		return ErrNoAccessibleOrganization
	}

	cur := uuid.Nil
	if s.currentOrgID != uuid.Nil {
		if org := res.OrganizationByID(s.currentOrgID); org != nil && domainAllowed(org, res.Principal) {
			cur = s.currentOrgID
		}
	}
	if cur == uuid.Nil && persisted != uuid.Nil {
		if org := res.OrganizationByID(persisted); org != nil && domainAllowed(org, res.Principal) {
			cur = persisted
		}
	}
	if cur == uuid.Nil {
		for i := range res.Organizations {
			if domainAllowed(&res.Organizations[i], res.Principal) {
				cur = res.Organizations[i].ID
				break
			}
		}
	}

	changed := cur != s.currentOrgID
	s.currentOrgID = cur

	if s.impersonatedOrgID != uuid.Nil && !s.impersonationValidLocked(s.impersonatedOrgID) {
		s.impersonatedOrgID = uuid.Nil
	}

	if cur == uuid.Nil {
		s.impersonatedOrgID = uuid.Nil
		s.notifyLocked()
		return ErrNoAccessibleOrganization
	}

	if changed {
		if err := s.store.SaveCurrentOrg(ctx, res.Principal.ID, s.deviceID, cur); err != nil {
			s.logger.Warn("failed to persist current organization", "error", err)
		}
	}

	s.notifyLocked()
	return nil
}

// SelectCurrentOrganization switches the current organization. The target must
// be in the resolved set and satisfy its domain restriction; any failure
// leaves state untouched. Switching always exits impersonation, even when
// re-selecting the same organization.
func (s *Session) SelectCurrentOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.res == nil {
		return ErrInvalidOrganizationSwitch
	}
	org := s.res.OrganizationByID(orgID)
	if org == nil {
		return ErrInvalidOrganizationSwitch
	}
	if !domainAllowed(org, s.res.Principal) {
		return ErrInvalidOrganizationSwitch
	}

	// Invalidate any in-flight resolution that targeted the old context.
	s.generation++
	if s.inflightCancel != nil {
		s.inflightCancel()
		s.inflightCancel = nil
	}

	s.currentOrgID = orgID
	s.impersonatedOrgID = uuid.Nil

	if err := s.store.SaveCurrentOrg(ctx, s.res.Principal.ID, s.deviceID, orgID); err != nil {
		s.logger.Warn("failed to persist current organization", "error", err)
	}

	s.notifyLocked()
	return nil
}

// SetImpersonatedOrganization enters or leaves impersonation. Passing uuid.Nil
// clears the overlay unconditionally. Entering requires a master-org
// owner/admin whose current organization is the master org (no impersonation
// on top of impersonation) and a non-master target present in the directory.
func (s *Session) SetImpersonatedOrganization(_ context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.inflightCancel != nil {
		s.inflightCancel()
		s.inflightCancel = nil
	}

	if orgID == uuid.Nil {
		if s.impersonatedOrgID != uuid.Nil {
			s.impersonatedOrgID = uuid.Nil
			s.notifyLocked()
		}
		return nil
	}

	if s.impersonatedOrgID != uuid.Nil {
		return ErrImpersonationDenied
	}
	if !s.impersonationValidLocked(orgID) {
		return ErrImpersonationDenied
	}

	s.impersonatedOrgID = orgID
	s.notifyLocked()
	return nil
}

func (s *Session) impersonationValidLocked(orgID uuid.UUID) bool {
	if s.res == nil || s.res.MasterOrgID == uuid.Nil {
		return false
	}
	if s.currentOrgID != s.res.MasterOrgID {
		return false
	}
	if !s.res.IsMasterAdmin() {
		return false
	}
	target := s.res.DirectoryOrganization(orgID)
	return target != nil && !target.IsMaster
}

// EffectiveOrganization is the organization whose data and config govern
// visibility: the impersonated org when set and still present in the
// directory, otherwise the current org. A disappeared impersonated org falls
// back; it never errors into stale data.
func (s *Session) EffectiveOrganization() *models.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked()
}

func (s *Session) effectiveLocked() *models.Organization {
	if s.res == nil || s.currentOrgID == uuid.Nil {
		return nil
	}
	if s.impersonatedOrgID != uuid.Nil {
		if org := s.res.DirectoryOrganization(s.impersonatedOrgID); org != nil {
			return org
		}
	}
	return s.res.OrganizationByID(s.currentOrgID)
}

func (s *Session) IsImpersonating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isImpersonatingLocked()
}

func (s *Session) isImpersonatingLocked() bool {
	if s.impersonatedOrgID == uuid.Nil || s.res == nil {
		return false
	}
	return s.res.DirectoryOrganization(s.impersonatedOrgID) != nil
}

// Permissions derives the capability set for the current state. Unresolved or
// erroring sessions get default-deny, never a stale previous value.
func (s *Session) Permissions() Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionsLocked()
}

func (s *Session) permissionsLocked() Permissions {
	eff := s.effectiveLocked()
	if s.res == nil || s.currentOrgID == uuid.Nil || eff == nil {
		return DefaultDeny()
	}
	role := s.res.Roles[s.currentOrgID]
	isMasterContext := s.res.MasterOrgID != uuid.Nil && s.currentOrgID == s.res.MasterOrgID
	return Derive(role, isMasterContext, s.isImpersonatingLocked(), eff.Config)
}

func (s *Session) Role() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil {
		return models.RoleNone
	}
	return s.res.Roles[s.currentOrgID]
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		EffectiveOrganization: s.effectiveLocked(),
		Permissions:           s.permissionsLocked(),
		IsImpersonating:       s.isImpersonatingLocked(),
		Generation:            s.generation,
	}
	if s.res != nil {
		snap.Organizations = s.res.Organizations
		snap.Role = s.res.Roles[s.currentOrgID]
		if s.currentOrgID != uuid.Nil {
			snap.CurrentOrganization = s.res.OrganizationByID(s.currentOrgID)
		}
		if s.res.IsMasterAdmin() {
			snap.Directory = s.res.Directory
		}
	}
	return snap
}

// Subscribe delivers a snapshot on every state change until ctx is done.
// Delivery is latest-wins: a slow consumer misses intermediate states, never
// blocks the session.
func (s *Session) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Session) notifyLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Replace the undelivered snapshot with the latest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// UpdateOrganizationConfig writes a tenant's config bundle. Platform admins
// may write any organization; tenant admins only their own current one. The
// write goes through the gateway, then a fresh resolution pass picks it up.
func (s *Session) UpdateOrganizationConfig(ctx context.Context, orgID uuid.UUID, cfg models.OrganizationConfig) error {
	s.mu.Lock()
	perms := s.permissionsLocked()
	current := s.currentOrgID
	s.mu.Unlock()

	allowed := perms.IsMasterAdmin || (perms.CanManageOrganization && orgID == current)
	if !allowed {
		return ErrConfigWriteDenied
	}

	if err := s.gw.UpdateOrganizationConfig(ctx, orgID, cfg); err != nil {
		return storeErr("updating organization config", err)
	}

	return s.Resolve(ctx)
}

func domainAllowed(org *models.Organization, p Principal) bool {
	if org.DomainRestriction == nil || *org.DomainRestriction == "" {
		return true
	}
	return strings.EqualFold(*org.DomainRestriction, p.EmailDomain())
}
