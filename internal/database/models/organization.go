package models

// OrganizationConfig holds the per-tenant feature toggles. Only platform
// (master-org) administrators may change it; the capability authorizer reads it.
type OrganizationConfig struct {
	UnifiedInbox bool `gorm:"default:true" json:"unified_inbox"`
	BusinessApps bool `gorm:"default:false" json:"business_apps"`
	AIAgents     bool `gorm:"default:true" json:"ai_agents"`
	MCPServers   bool `gorm:"default:true" json:"mcp_servers"`
	Analytics    bool `gorm:"default:true" json:"analytics"`
	CRM          bool `gorm:"default:true" json:"crm"`
	PIIMasking   bool `gorm:"default:false" json:"pii_masking"`
}

type Organization struct {
	Base
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	// At most one organization in the system may have IsMaster set. The core
	// enforces it on writes; the worker audit reports violations.
	IsMaster bool `gorm:"default:false;index" json:"is_master"`

	// DomainRestriction, when set, limits who may select this organization as
	// current: the principal's email domain must equal it exactly.
	DomainRestriction *string `json:"domain_restriction,omitempty"`

	DomainAutoJoinEnabled bool        `gorm:"default:false" json:"domain_auto_join_enabled"`
	AllowedDomains        StringArray `gorm:"type:text" json:"allowed_domains,omitempty"`

	Config OrganizationConfig `gorm:"embedded;embeddedPrefix:config_" json:"config"`

	// Relationships
	Memberships []Membership `gorm:"foreignKey:OrganizationID" json:"-"`
	Invitations []Invitation `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}
