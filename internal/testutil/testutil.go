package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/auth"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Membership{},
		&models.Invitation{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// DiscardLogger returns a logger whose output goes nowhere.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestGateway wires a directory store over the test DB, without redis.
func NewTestGateway(t *testing.T, db *gorm.DB) *directory.Store {
	t.Helper()
	return directory.NewStore(db, nil, DiscardLogger())
}

// CreateTestOrg creates a tenant organization
func CreateTestOrg(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Base: models.Base{ID: uuid.New()},
		Name: name,
		Slug: "org-" + uuid.New().String()[:8],
		Config: models.OrganizationConfig{
			UnifiedInbox: true,
			AIAgents:     true,
			MCPServers:   true,
			Analytics:    true,
			CRM:          true,
		},
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	return org
}

// CreateMasterOrg creates the platform-operator organization
func CreateMasterOrg(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()

	org := CreateTestOrg(t, db, "Platform HQ")
	if err := db.Model(org).Update("is_master", true).Error; err != nil {
		t.Fatalf("failed to mark master organization: %v", err)
	}
	org.IsMaster = true
	return org
}

// CreateTestUser creates a user with the given email
func CreateTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Base:         models.Base{ID: uuid.New()},
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		IsActive:     true,
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

// CreateMembership grants user a role in org
func CreateMembership(t *testing.T, db *gorm.DB, org *models.Organization, user *models.User, role models.Role) *models.Membership {
	t.Helper()

	m := &models.Membership{
		OrganizationID: org.ID,
		PrincipalID:    user.ID,
		Role:           role,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// GenerateTestToken generates a valid JWT token for the given user
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	Gateway    *directory.Store
	JWTService *auth.JWTService
	MasterOrg  *models.Organization
	Tenant     *models.Organization
	Admin      *models.User // owner/admin of the master org
	Member     *models.User // member of the tenant org
	AdminToken string
	UserToken  string
}

// NewTestContext creates a complete setup: master org with a platform admin,
// one tenant org with a member, tokens for both.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()

	master := CreateMasterOrg(t, db)
	tenant := CreateTestOrg(t, db, "Acme Corp")

	admin := CreateTestUser(t, db, "admin@platform.test")
	member := CreateTestUser(t, db, "member@acme.test")

	CreateMembership(t, db, master, admin, models.RoleAdmin)
	CreateMembership(t, db, tenant, member, models.RoleMember)

	return &TestSetup{
		DB:         db,
		Gateway:    NewTestGateway(t, db),
		JWTService: jwtService,
		MasterOrg:  master,
		Tenant:     tenant,
		Admin:      admin,
		Member:     member,
		AdminToken: GenerateTestToken(t, jwtService, admin),
		UserToken:  GenerateTestToken(t, jwtService, member),
	}
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		sqlDB, err := ts.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
