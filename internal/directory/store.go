package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const changeChannel = "directory:changes"

// Store is the gorm-backed Gateway. Change events are fanned out over a redis
// pub/sub channel; with a nil redis client the store still works but emits
// nothing (used by tests and single-process setups).
type Store struct {
	db     *gorm.DB
	rdb    *redis.Client
	logger *slog.Logger
}

func NewStore(db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *Store {
	return &Store{db: db, rdb: rdb, logger: logger}
}

var _ Gateway = (*Store)(nil)

func (s *Store) MembershipsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]models.Membership, error) {
	var ms []models.Membership
	err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("principal_id = ?", principalID).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *Store) OrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orgs []models.Organization
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

func (s *Store) OrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (s *Store) MasterOrganization(ctx context.Context) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "is_master = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoMasterOrganization
		}
		return nil, err
	}
	return &org, nil
}

func (s *Store) AllOrganizations(ctx context.Context) ([]models.Organization, error) {
	var orgs []models.Organization
	if err := s.db.WithContext(ctx).Order("name asc, id asc").Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

// AutoJoinCandidates returns organizations that auto-join principals from the
// given email domain. Matching on allowed_domains happens in process because
// the column is portable text, not a native array.
func (s *Store) AutoJoinCandidates(ctx context.Context, domain string) ([]models.Organization, error) {
	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Where("domain_auto_join_enabled = ?", true).
		Find(&orgs).Error
	if err != nil {
		return nil, err
	}

	matches := orgs[:0]
	for _, org := range orgs {
		if org.AllowedDomains.Contains(domain) {
			matches = append(matches, org)
		}
	}
	return matches, nil
}

func (s *Store) CreateMembership(ctx context.Context, m *models.Membership) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Membership{}).
			Where("organization_id = ? AND principal_id = ?", m.OrganizationID, m.PrincipalID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateMembership
		}
		return tx.Create(m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateMembership
		}
		return err
	}

	s.notify(ctx, ChangeEvent{Kind: "membership", OrganizationID: m.OrganizationID})
	return nil
}

// CreateOrganizationWithOwner creates the organization and the owner's
// membership in one transaction so a failure never leaves an ownerless org.
func (s *Store) CreateOrganizationWithOwner(ctx context.Context, org *models.Organization, ownerID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if org.IsMaster {
			var count int64
			if err := tx.Model(&models.Organization{}).Where("is_master = ?", true).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrMasterExists
			}
		}

		if err := tx.Create(org).Error; err != nil {
			return err
		}

		m := models.Membership{
			OrganizationID: org.ID,
			PrincipalID:    ownerID,
			Role:           models.RoleOwner,
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return err
	}

	s.notify(ctx, ChangeEvent{Kind: "organization", OrganizationID: org.ID})
	return nil
}

func (s *Store) UpdateOrganizationConfig(ctx context.Context, orgID uuid.UUID, cfg models.OrganizationConfig) error {
	res := s.db.WithContext(ctx).
		Model(&models.Organization{}).
		Where("id = ?", orgID).
		Updates(map[string]interface{}{
			"config_unified_inbox": cfg.UnifiedInbox,
			"config_business_apps": cfg.BusinessApps,
			"config_ai_agents":     cfg.AIAgents,
			"config_mcp_servers":   cfg.MCPServers,
			"config_analytics":     cfg.Analytics,
			"config_crm":           cfg.CRM,
			"config_pii_masking":   cfg.PIIMasking,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrganizationNotFound
	}

	s.notify(ctx, ChangeEvent{Kind: "organization", OrganizationID: orgID})
	return nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return err
	}
	s.notify(ctx, ChangeEvent{Kind: "invitation", OrganizationID: inv.OrganizationID})
	return nil
}

func (s *Store) InvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var inv models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Organization").
		First(&inv, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// AcceptInvitation marks the invitation accepted and creates the membership
// with the invited role, both in one transaction. A concurrent grant of the
// same (org, principal) pair fails the whole acceptance.
func (s *Store) AcceptInvitation(ctx context.Context, token string, principalID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invitation
		if err := tx.First(&inv, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationNotFound
			}
			return err
		}
		now := time.Now()
		if inv.AcceptedAt != nil {
			return ErrInvitationNotFound
		}
		if inv.Expired(now) {
			return ErrInvitationExpired
		}

		var count int64
		if err := tx.Model(&models.Membership{}).
			Where("organization_id = ? AND principal_id = ?", inv.OrganizationID, principalID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateMembership
		}

		m = models.Membership{
			OrganizationID: inv.OrganizationID,
			PrincipalID:    principalID,
			Role:           inv.Role,
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}

		inv.AcceptedAt = &now
		return tx.Save(&inv).Error
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, ChangeEvent{Kind: "membership", OrganizationID: m.OrganizationID})
	return &m, nil
}

func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("accepted_at IS NULL AND expires_at < ?", now).
		Delete(&models.Invitation{})
	return res.RowsAffected, res.Error
}

func (s *Store) notify(ctx context.Context, ev ChangeEvent) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, changeChannel, data).Err(); err != nil {
		s.logger.Warn("failed to publish directory change", "error", err)
	}
}

// Watch subscribes to the directory change channel until ctx is done. With no
// redis client the returned channel stays open and silent.
func (s *Store) Watch(ctx context.Context) <-chan ChangeEvent {
	out := make(chan ChangeEvent, 16)

	if s.rdb == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	sub := s.rdb.Subscribe(ctx, changeChannel)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warn("malformed directory change event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					// Slow consumer: drop, a later event forces a re-resolve anyway.
				}
			}
		}
	}()
	return out
}
