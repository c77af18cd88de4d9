package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeInvitationExpiry = "invitations:expire"
	TypeDirectoryAudit   = "directory:audit"
)

// InvitationExpiryPayload configures one expiry sweep.
type InvitationExpiryPayload struct {
	// BatchNote is logged with the sweep result, e.g. "scheduled" or "manual".
	BatchNote string `json:"batch_note,omitempty"`
}

func NewInvitationExpiryTask(payload InvitationExpiryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInvitationExpiry, data), nil
}

// DirectoryAuditPayload configures one invariant audit pass.
type DirectoryAuditPayload struct {
	// FailFast stops at the first violation instead of reporting all of them.
	FailFast bool `json:"fail_fast,omitempty"`
}

func NewDirectoryAuditTask(payload DirectoryAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDirectoryAudit, data), nil
}
