package tenancy

import (
	"strings"

	"github.com/google/uuid"
)

// Principal is the authenticated actor, as supplied by the identity provider.
// Immutable for the lifetime of a session.
type Principal struct {
	ID    uuid.UUID
	Email string
}

// EmailDomain returns the part after the last '@', lowercased, or "" when the
// email is malformed.
func (p Principal) EmailDomain() string {
	i := strings.LastIndex(p.Email, "@")
	if i < 0 || i == len(p.Email)-1 {
		return ""
	}
	return strings.ToLower(p.Email[i+1:])
}
