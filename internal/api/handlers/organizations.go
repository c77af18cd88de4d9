package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/api/dto"
	"github.com/hugh/dashtenant/internal/api/middleware"
	"github.com/hugh/dashtenant/internal/auth"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"github.com/hugh/dashtenant/internal/tenancy"
)

type OrganizationHandler struct {
	manager     *tenancy.Manager
	authService *auth.Service
}

func NewOrganizationHandler(manager *tenancy.Manager, authService *auth.Service) *OrganizationHandler {
	return &OrganizationHandler{manager: manager, authService: authService}
}

func (h *OrganizationHandler) session(r *http.Request) (*tenancy.Session, error) {
	ctx := r.Context()
	p := tenancy.Principal{
		ID:    middleware.GetPrincipalID(ctx),
		Email: middleware.GetPrincipalEmail(ctx),
	}
	return h.manager.Session(ctx, p, middleware.GetDeviceID(ctx))
}

// List returns the organizations the caller may select as current.
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil && !errors.Is(err, tenancy.ErrNoAccessibleOrganization) {
		writeTenancyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot().Organizations)
}

// Directory returns every organization in the system; platform admins only.
func (h *OrganizationHandler) Directory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeTenancyError(w, err)
		return
	}

	snap := sess.Snapshot()
	if !snap.Permissions.CanViewAllOrgs {
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Forbidden"})
		return
	}
	writeJSON(w, http.StatusOK, snap.Directory)
}

// UpdateConfig writes an organization's capability-toggle bundle.
func (h *OrganizationHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	var req dto.UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	sess, err := h.session(r)
	if err != nil {
		writeTenancyError(w, err)
		return
	}

	if err := sess.UpdateOrganizationConfig(r.Context(), orgID, req.Config); err != nil {
		if errors.Is(err, directory.ErrOrganizationNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Organization not found"})
			return
		}
		writeTenancyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Invite issues a membership invitation for the organization.
func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	var req dto.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	sess, err := h.session(r)
	if err != nil {
		writeTenancyError(w, err)
		return
	}

	snap := sess.Snapshot()
	ownOrg := snap.CurrentOrganization != nil && snap.CurrentOrganization.ID == orgID
	if !snap.Permissions.CanManageMembers || (!ownOrg && !snap.Permissions.IsMasterAdmin) {
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Forbidden"})
		return
	}

	inv, err := h.authService.InviteMember(r.Context(), orgID, req.Email, models.ParseRole(req.Role))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create invitation"})
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

// AcceptInvitation redeems an invitation token for the caller.
func (h *OrganizationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req dto.AcceptInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), middleware.GetPrincipalID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthenticated"})
		return
	}

	m, err := h.authService.AcceptInvitation(r.Context(), req.Token, user)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrInvitationNotFound):
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Invitation not found"})
		case errors.Is(err, directory.ErrInvitationExpired):
			writeJSON(w, http.StatusGone, dto.ErrorResponse{Error: "Invitation has expired"})
		case errors.Is(err, directory.ErrDuplicateMembership):
			writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Membership already exists"})
		case errors.Is(err, auth.ErrEmailMismatch):
			writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Invitation addressed to a different email"})
		default:
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to accept invitation"})
		}
		return
	}

	// Pick up the new membership on this device right away.
	if sess, serr := h.session(r); serr == nil || errors.Is(serr, tenancy.ErrNoAccessibleOrganization) {
		_ = sess.Resolve(r.Context())
	}

	writeJSON(w, http.StatusCreated, m)
}
