package tenancy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/directory"
)

// Manager owns one Session per (principal, device) and re-resolves all of them
// when the directory store pushes a change notification. Change events trigger
// full resolution passes, never direct field patches.
type Manager struct {
	gw       directory.Gateway
	resolver *Resolver
	store    SessionStore
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(gw directory.Gateway, resolver *Resolver, store SessionStore, logger *slog.Logger) *Manager {
	return &Manager{
		gw:       gw,
		resolver: resolver,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func managerKey(principalID uuid.UUID, deviceID string) string {
	return principalID.String() + "/" + deviceID
}

// Session returns the session for the principal-device pair, creating and
// resolving it on first use. The error from the initial resolution is passed
// through (ErrNoAccessibleOrganization still yields a usable session so the
// caller can route to onboarding). A cached session whose last pass failed is
// re-resolved on every touch: a directory outage stays a transient error,
// never a cached empty organization set.
func (m *Manager) Session(ctx context.Context, p Principal, deviceID string) (*Session, error) {
	if p.ID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	m.mu.Lock()
	key := managerKey(p.ID, deviceID)
	sess, ok := m.sessions[key]
	if !ok {
		sess = NewSession(p, deviceID, m.gw, m.resolver, m.store, m.logger)
		m.sessions[key] = sess
	}
	m.mu.Unlock()

	if !ok || !sess.Resolved() {
		if err := sess.Resolve(ctx); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// Drop removes the session, e.g. on logout. The persisted current-org
// selection survives; impersonation does not.
func (m *Manager) Drop(principalID uuid.UUID, deviceID string) {
	m.mu.Lock()
	delete(m.sessions, managerKey(principalID, deviceID))
	m.mu.Unlock()
}

// Run consumes the directory change feed until ctx is done, triggering a
// fresh resolution pass on every live session per event.
func (m *Manager) Run(ctx context.Context) {
	events := m.gw.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.logger.Debug("directory change", "kind", ev.Kind, "organization_id", ev.OrganizationID)

			m.mu.Lock()
			sessions := make([]*Session, 0, len(m.sessions))
			for _, s := range m.sessions {
				sessions = append(sessions, s)
			}
			m.mu.Unlock()

			for _, s := range sessions {
				go func(s *Session) {
					if err := s.Resolve(ctx); err != nil {
						m.logger.Warn("re-resolution after directory change failed",
							"principal_id", s.Principal().ID, "error", err)
					}
				}(s)
			}
		}
	}
}
