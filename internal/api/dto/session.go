package dto

import "github.com/hugh/dashtenant/internal/database/models"

type SelectOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

type ImpersonateRequest struct {
	OrganizationID string `json:"organization_id"`
}

type UpdateConfigRequest struct {
	Config models.OrganizationConfig `json:"config"`
}

type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (r InviteRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	return errors
}

type AcceptInvitationRequest struct {
	Token string `json:"token"`
}
