package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/api/dto"
	"github.com/hugh/dashtenant/internal/api/middleware"
	"github.com/hugh/dashtenant/internal/tenancy"
)

// SessionHandler exposes the tenant session commands: resolve, select current
// organization, enter/exit impersonation, refetch. Downstream features read
// the returned snapshot; they never re-derive access logic.
type SessionHandler struct {
	manager *tenancy.Manager
}

func NewSessionHandler(manager *tenancy.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

func (h *SessionHandler) session(r *http.Request) (*tenancy.Session, error) {
	ctx := r.Context()
	p := tenancy.Principal{
		ID:    middleware.GetPrincipalID(ctx),
		Email: middleware.GetPrincipalEmail(ctx),
	}
	return h.manager.Session(ctx, p, middleware.GetDeviceID(ctx))
}

// Get resolves (or returns) the caller's session and its snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	snap := sess.Snapshot()
	if len(snap.Organizations) == 0 {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{
			Error:      "No accessible organization",
			Onboarding: true,
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// SelectOrganization switches the current organization.
func (h *SessionHandler) SelectOrganization(w http.ResponseWriter, r *http.Request) {
	var req dto.SelectOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	if err := sess.SelectCurrentOrganization(r.Context(), orgID); err != nil {
		writeTenancyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Impersonate enters impersonation of a tenant organization.
func (h *SessionHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	var req dto.ImpersonateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	if err := sess.SetImpersonatedOrganization(r.Context(), orgID); err != nil {
		writeTenancyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// StopImpersonating clears the impersonation overlay. Always permitted.
func (h *SessionHandler) StopImpersonating(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	if err := sess.SetImpersonatedOrganization(r.Context(), uuid.Nil); err != nil {
		writeTenancyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Refresh forces a fresh resolution pass.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	if err := sess.Resolve(r.Context()); err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func writeTenancyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenancy.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthenticated"})
	case errors.Is(err, tenancy.ErrNoAccessibleOrganization):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "No accessible organization", Onboarding: true})
	case errors.Is(err, tenancy.ErrInvalidOrganizationSwitch):
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Invalid organization switch"})
	case errors.Is(err, tenancy.ErrImpersonationDenied):
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Impersonation denied"})
	case errors.Is(err, tenancy.ErrConfigWriteDenied):
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Config write denied"})
	case errors.Is(err, tenancy.ErrAmbiguousAutoJoin):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Ambiguous domain auto-join"})
	case errors.Is(err, tenancy.ErrDirectoryUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Directory unavailable", Retryable: true})
	default:
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal error"})
	}
}
