package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	gw     directory.Gateway
	logger *slog.Logger
}

func NewHandler(db *gorm.DB, gw directory.Gateway, logger *slog.Logger) *Handler {
	return &Handler{db: db, gw: gw, logger: logger}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeInvitationExpiry, h.HandleInvitationExpiry)
	mux.HandleFunc(TypeDirectoryAudit, h.HandleDirectoryAudit)
}

// HandleInvitationExpiry deletes unaccepted invitations past their deadline.
func (h *Handler) HandleInvitationExpiry(ctx context.Context, t *asynq.Task) error {
	var payload InvitationExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	removed, err := h.gw.ExpireInvitations(ctx, time.Now())
	if err != nil {
		h.logger.Error("invitation expiry sweep failed", "error", err)
		return err
	}

	if removed > 0 {
		h.logger.Info("expired invitations removed",
			"count", removed,
			"note", payload.BatchNote,
		)
	}
	return nil
}

// HandleDirectoryAudit checks directory invariants: a single master
// organization, and no memberships pointing at removed organizations.
// Violations are logged; the task fails so operators see it in the queue.
func (h *Handler) HandleDirectoryAudit(ctx context.Context, t *asynq.Task) error {
	var payload DirectoryAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var violations []string

	var masters int64
	if err := h.db.WithContext(ctx).
		Model(&models.Organization{}).
		Where("is_master = ?", true).
		Count(&masters).Error; err != nil {
		return err
	}
	if masters > 1 {
		violations = append(violations, fmt.Sprintf("%d organizations marked master", masters))
		h.logger.Error("directory audit: multiple master organizations", "count", masters)
		if payload.FailFast {
			return fmt.Errorf("directory audit: %s", violations[0])
		}
	}

	var orphans int64
	err := h.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("organization_id NOT IN (?)",
			h.db.Model(&models.Organization{}).Select("id"),
		).
		Count(&orphans).Error
	if err != nil {
		return err
	}
	if orphans > 0 {
		violations = append(violations, fmt.Sprintf("%d memberships reference missing organizations", orphans))
		h.logger.Error("directory audit: orphaned memberships", "count", orphans)
	}

	if len(violations) > 0 {
		return fmt.Errorf("directory audit found %d violation(s)", len(violations))
	}

	h.logger.Debug("directory audit clean")
	return nil
}
