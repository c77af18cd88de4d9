package tenancy

import "github.com/hugh/dashtenant/internal/database/models"

// Permissions is the derived capability set downstream features consume. It is
// ephemeral: recomputed on every state change, never persisted.
type Permissions struct {
	IsOwner       bool `json:"is_owner"`
	IsAdmin       bool `json:"is_admin"`
	IsMember      bool `json:"is_member"`
	IsViewer      bool `json:"is_viewer"`
	IsMasterAdmin bool `json:"is_master_admin"`

	// Feature visibility for the effective organization.
	UnifiedInbox bool `json:"unified_inbox"`
	BusinessApps bool `json:"business_apps"`
	AIAgents     bool `json:"ai_agents"`
	MCPServers   bool `json:"mcp_servers"`
	Analytics    bool `json:"analytics"`
	CRM          bool `json:"crm"`

	// PIIMasking is a data-protection setting, not a visibility toggle: it
	// always mirrors the effective organization's config.
	PIIMasking bool `json:"pii_masking"`

	// Action permissions.
	CanManageOrganization  bool `json:"can_manage_organization"`
	CanManageMembers       bool `json:"can_manage_members"`
	CanImpersonateOrgs     bool `json:"can_impersonate_orgs"`
	CanViewAllOrgs         bool `json:"can_view_all_orgs"`
	CanConfigureMCPServers bool `json:"can_configure_mcp_servers"`
}

// DefaultDeny is the permission set for an unauthenticated principal or an
// unresolved session.
func DefaultDeny() Permissions {
	return Permissions{}
}

// Derive maps (role, master context, impersonation state, effective config) to
// the capability set. Pure: no I/O, no side effects.
//
// isMasterContext refers to the current organization, not the effective one:
// a platform admin stays a platform admin while impersonating a tenant.
func Derive(role models.Role, isMasterContext, isImpersonating bool, cfg models.OrganizationConfig) Permissions {
	if !role.Valid() {
		return DefaultDeny()
	}

	p := Permissions{
		IsOwner:  role == models.RoleOwner,
		IsAdmin:  role.AtLeast(models.RoleAdmin),
		IsMember: role.AtLeast(models.RoleMember),
		IsViewer: true,
	}
	p.IsMasterAdmin = isMasterContext && p.IsAdmin

	if p.IsMasterAdmin {
		// Platform admins see what the tenant's own config exposes, whether
		// viewing the master org or impersonating a tenant. This applies the
		// tenant's privacy configuration to the admin's view.
		p.UnifiedInbox = cfg.UnifiedInbox
		p.BusinessApps = cfg.BusinessApps
		p.AIAgents = cfg.AIAgents
		p.MCPServers = cfg.MCPServers
		p.Analytics = cfg.Analytics
		p.CRM = cfg.CRM
	} else {
		// Tenant members always see their own features; business apps are a
		// platform-admin-only surface regardless of config.
		p.UnifiedInbox = true
		p.BusinessApps = false
		p.AIAgents = true
		p.MCPServers = true
		p.Analytics = true
		p.CRM = true
	}

	p.PIIMasking = cfg.PIIMasking

	p.CanManageOrganization = p.IsAdmin
	p.CanManageMembers = p.IsAdmin
	p.CanImpersonateOrgs = p.IsMasterAdmin
	p.CanViewAllOrgs = p.IsMasterAdmin

	// Infrastructure writes stay in the admin's own context: never while
	// impersonating a tenant.
	p.CanConfigureMCPServers = p.IsMasterAdmin && !isImpersonating

	return p
}
