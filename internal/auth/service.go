package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is inactive")
	ErrEmailMismatch      = errors.New("invitation addressed to a different email")
)

type Service struct {
	db           *gorm.DB
	gw           directory.Gateway
	jwt          *JWTService
	inviteExpiry time.Duration
}

func NewService(db *gorm.DB, gw directory.Gateway, jwt *JWTService, inviteExpiry time.Duration) *Service {
	return &Service{db: db, gw: gw, jwt: jwt, inviteExpiry: inviteExpiry}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	OrgName  string // Optional: create new org
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates the user and, unless the caller opted out via an empty org
// name and their domain auto-joins somewhere, a personal organization with an
// owner membership. Organization and membership land in one transaction
// inside the gateway so a failure never leaves an ownerless org.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("email = ?", input.Email).First(&existing).Error; err == nil {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:        strings.ToLower(input.Email),
		PasswordHash: hash,
		Name:         input.Name,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	orgName := input.OrgName
	if orgName == "" {
		orgName = input.Name + "'s Team"
	}
	org := models.Organization{
		Name: orgName,
		Slug: generateSlug(orgName),
	}
	if err := s.gw.CreateOrganizationWithOwner(ctx, &org, user.ID); err != nil {
		return nil, fmt.Errorf("creating organization: %w", err)
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: &user}, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(input.Email)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: &user}, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// InviteMember issues an invitation for the given organization. Authorization
// (CanManageMembers) is the caller's responsibility; this only owns the
// invitation record itself.
func (s *Service) InviteMember(ctx context.Context, orgID uuid.UUID, email string, role models.Role) (*models.Invitation, error) {
	if !role.Valid() || role == models.RoleOwner {
		role = models.RoleMember
	}

	inv := models.Invitation{
		OrganizationID: orgID,
		Email:          strings.ToLower(email),
		Role:           role,
		Token:          newInviteToken(),
		ExpiresAt:      time.Now().Add(s.inviteExpiry),
	}
	if err := s.gw.CreateInvitation(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// AcceptInvitation turns a pending invitation into a membership with the
// invited role. A principal who already holds a membership gets
// ErrDuplicateMembership from the gateway, never a silent overwrite.
func (s *Service) AcceptInvitation(ctx context.Context, token string, principal *models.User) (*models.Membership, error) {
	inv, err := s.gw.InvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(inv.Email, principal.Email) {
		return nil, ErrEmailMismatch
	}
	return s.gw.AcceptInvitation(ctx, token, principal.ID)
}

func newInviteToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "'", "")
	// Add timestamp to ensure uniqueness
	return slug + "-" + time.Now().Format("0601021504")
}
