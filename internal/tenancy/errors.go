package tenancy

import "errors"

var (
	// ErrUnauthenticated means no principal is attached to the session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNoAccessibleOrganization means resolution succeeded but the principal
	// belongs to no organization; callers route to onboarding.
	ErrNoAccessibleOrganization = errors.New("no accessible organization")

	// ErrDirectoryUnavailable wraps transient directory store failures. The
	// session fails closed: cached organization sets are dropped, permissions
	// become default-deny.
	ErrDirectoryUnavailable = errors.New("tenant directory unavailable")

	// ErrInvalidOrganizationSwitch rejects selecting an organization outside
	// the resolved set or one whose domain restriction does not match the
	// principal's email domain. Session state is unchanged.
	ErrInvalidOrganizationSwitch = errors.New("invalid organization switch")

	// ErrImpersonationDenied rejects impersonation by non-platform-admins and
	// impersonation layered on top of another impersonation.
	ErrImpersonationDenied = errors.New("impersonation denied")

	// ErrConfigWriteDenied rejects organization config writes by principals
	// without management rights over the target organization.
	ErrConfigWriteDenied = errors.New("organization config write denied")

	// ErrAmbiguousAutoJoin rejects domain auto-join when more than one
	// organization claims the principal's email domain.
	ErrAmbiguousAutoJoin = errors.New("ambiguous domain auto-join")
)
