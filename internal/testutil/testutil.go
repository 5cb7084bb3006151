package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/internal/users"
	"github.com/hugh/go-backoffice/pkg/crypto"
	"github.com/hugh/go-backoffice/pkg/util"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestPassword satisfies the default password policy.
const TestPassword = "Password123!"

const (
	testJWTSecret   = "test-secret-key-for-testing"
	testTokenSecret = "test-action-token-secret"
	TestBaseURL     = "http://admin.test"
	TestMaxUpload   = 1 << 20
)

// SetupTestDB creates a migrated in-memory SQLite database. The pool is
// limited to one connection so every query sees the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type userConfig struct {
	email    string
	role     models.Role
	disabled bool
	password bool
	verified bool
	provider models.Provider
}

type UserOption func(*userConfig)

func WithEmail(email string) UserOption {
	return func(c *userConfig) { c.email = email }
}

func WithRole(role models.Role) UserOption {
	return func(c *userConfig) { c.role = role }
}

func Disabled() UserOption {
	return func(c *userConfig) { c.disabled = true }
}

func Unverified() UserOption {
	return func(c *userConfig) { c.verified = false }
}

// WithoutPassword creates an account that signs in through OAuth only.
func WithoutPassword(provider models.Provider) UserOption {
	return func(c *userConfig) {
		c.password = false
		c.provider = provider
	}
}

// CreateTestUser inserts a verified user whose password is TestPassword.
func CreateTestUser(t *testing.T, db *gorm.DB, opts ...UserOption) *models.User {
	t.Helper()

	cfg := userConfig{
		email:    "test-" + uuid.New().String()[:8] + "@example.com",
		role:     models.RoleUser,
		password: true,
		verified: true,
		provider: models.ProviderEmail,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	user := &models.User{
		Email:            cfg.email,
		Role:             cfg.role,
		IsDisabled:       cfg.disabled,
		HasEmailVerified: cfg.verified,
		HasPassword:      cfg.password,
		ProviderData:     cfg.provider,
		FirstName:        "Test",
		LastName:         "User",
	}
	if cfg.password {
		hash, err := auth.HashPassword(TestPassword)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		user.PasswordHash = &hash
	}

	// gorm skips zero values on create, so the false flags are written
	// explicitly to override column defaults.
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	if err := db.Model(user).Updates(map[string]interface{}{
		"is_disabled":        cfg.disabled,
		"has_email_verified": cfg.verified,
		"has_password":       cfg.password,
	}).Error; err != nil {
		t.Fatalf("failed to update test user: %v", err)
	}

	return user
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now().UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RecordingNotifier captures token notifications instead of sending mail.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []tokens.Notification
	err  error
}

func (n *RecordingNotifier) Notify(_ context.Context, note tokens.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

// Fail makes every following Notify return err; nil restores delivery.
func (n *RecordingNotifier) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *RecordingNotifier) Sent() []tokens.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]tokens.Notification(nil), n.sent...)
}

// LastToken returns the raw token from the latest link sent for action.
func (n *RecordingNotifier) LastToken(t *testing.T, action models.TokenAction) string {
	t.Helper()

	sent := n.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Action != action {
			continue
		}
		u, err := url.Parse(sent[i].Link)
		if err != nil {
			t.Fatalf("failed to parse link %q: %v", sent[i].Link, err)
		}
		return u.Query().Get("token")
	}
	t.Fatalf("no %s notification sent", action)
	return ""
}

// Stack wires every service against an in-memory database, object store,
// session store and notifier.
type Stack struct {
	DB        *gorm.DB
	Clock     *Clock
	Storage   *storage.MemoryStorage
	Notifier  *RecordingNotifier
	Sessions  *auth.MemorySessionStore
	JWT       *auth.JWTService
	Encryptor *crypto.Encryptor
	Files     *files.Service
	Settings  *settings.Service
	Tokens    *tokens.Service
	Auth      *auth.Service
	OAuth     *auth.OAuthService
	Ownership *settings.Ownership
	Guard     *auth.Guard
	Users     *users.Service
}

// NewStack builds a Stack. oauthOpts are passed to the OAuth service so
// tests can point providers at local servers.
func NewStack(t *testing.T, oauthOpts ...auth.OAuthOption) *Stack {
	t.Helper()

	log := util.DiscardLogger()
	db := SetupTestDB(t)
	clock := NewClock()

	enc, err := crypto.NewEncryptor("")
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	s := &Stack{
		DB:        db,
		Clock:     clock,
		Storage:   storage.NewMemory("http://files.test"),
		Notifier:  &RecordingNotifier{},
		Sessions:  auth.NewMemorySessionStore(),
		JWT:       auth.NewJWTService(testJWTSecret, 24*time.Hour),
		Encryptor: enc,
	}
	s.Files = files.NewService(db, s.Storage, nil, TestMaxUpload, 15*time.Minute, log)
	s.Settings = settings.NewService(db, enc, s.Files, log)
	s.Tokens = tokens.NewService(db, testTokenSecret, TestBaseURL, s.Notifier, log, tokens.WithClock(clock.Now))
	s.Auth = auth.NewService(db, s.JWT, s.Sessions, s.Tokens, s.Settings, log)
	s.OAuth = auth.NewOAuthService(s.Auth, testJWTSecret, TestBaseURL, oauthOpts...)
	s.Ownership = settings.NewOwnership(s.Settings, s.Auth)
	s.Guard = auth.NewGuard(db, s.JWT, s.Sessions)
	s.Users = users.NewService(db, s.Auth, s.Files, s.Tokens, log)
	return s
}

// CreateUser inserts a user; an owner is also recorded in the owner setting.
func (s *Stack) CreateUser(t *testing.T, opts ...UserOption) *models.User {
	t.Helper()

	user := CreateTestUser(t, s.DB, opts...)
	if user.Role == models.RoleOwner {
		if err := s.Settings.AssignOwner(s.DB, user.ID, nil); err != nil {
			t.Fatalf("failed to assign owner: %v", err)
		}
	}
	return user
}

// SignIn opens a session for a user created with TestPassword.
func (s *Stack) SignIn(t *testing.T, user *models.User) string {
	t.Helper()

	session, err := s.Auth.SignIn(context.Background(), user.Email, TestPassword)
	if err != nil {
		t.Fatalf("failed to sign in %s: %v", user.Email, err)
	}
	return session.Token
}

// Principal resolves a session token the way the auth middleware does.
func (s *Stack) Principal(t *testing.T, token string) *auth.Principal {
	t.Helper()

	p, err := s.Guard.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to resolve session: %v", err)
	}
	return p
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

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
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
