package service_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/mail"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"
)

var (
	userColumns = []string{
		"id",
		"username",
		"email",
		"password_hash",
		"profile_image",
		"email_verified",
		"verification_token",
		"reset_password_token",
		"reset_password_expires_at",
		"last_login_at",
		"created_at",
		"updated_at",
	}
	refreshTokenColumns = []string{
		"id",
		"user_id",
		"token",
		"expires_at",
		"created_at",
		"created_by_ip",
		"revoked_at",
		"revoked_by_ip",
		"replaced_by_token",
	}
	roleColumns = []string{
		"role_id",
	}
)

const (
	findByEmailQuery             = `(?s)SELECT id, username, email, .+ FROM users WHERE email = \? AND deleted_at IS NULL`
	findByUsernameQuery          = `(?s)SELECT id, username, email, .+ FROM users WHERE username = \? AND deleted_at IS NULL`
	findByIDQuery                = `(?s)SELECT id, username, email, .+ FROM users WHERE id = \? AND deleted_at IS NULL`
	findByVerificationTokenQuery = `(?s)SELECT id, username, email, .+ FROM users WHERE verification_token = \? AND deleted_at IS NULL`
	findByResetTokenQuery        = `(?s)SELECT id, username, email, .+ FROM users WHERE reset_password_token = \? AND reset_password_expires_at > \? AND deleted_at IS NULL`
	listUserRolesQuery           = `(?s)SELECT role_id FROM user_roles WHERE user_id = \? ORDER BY role_id`
	insertUserQuery              = `(?s)INSERT INTO users \(username, email, password_hash, profile_image, email_verified, verification_token, created_at, updated_at\)`
	insertUserRoleQuery          = `(?s)INSERT INTO user_roles \(user_id, role_id\) VALUES \(\?, \?\)`
	updateProfileStmt            = `(?s)UPDATE users SET username = \?, email = \?, profile_image = \?, updated_at = \?\s+WHERE id = \? AND deleted_at IS NULL`
	updatePasswordStmt           = `(?s)UPDATE users SET password_hash = \?, updated_at = \?\s+WHERE id = \? AND deleted_at IS NULL`
	setResetTokenStmt            = `(?s)^\s*UPDATE users SET reset_password_token = \?, reset_password_expires_at = \?, updated_at = \?\s+WHERE id = \? AND deleted_at IS NULL\s*$`
	setVerificationStmt          = `(?s)UPDATE users SET verification_token = \?, updated_at = \?\s+WHERE id = \? AND email_verified = 0`
	updateLastLoginQuery         = `(?s)UPDATE users SET last_login_at = \? WHERE id = \?`
	consumeVerificationStmt      = `(?s)UPDATE users SET email_verified = 1, verification_token = NULL`
	consumeResetStmt             = `(?s)UPDATE users SET password_hash = \?, reset_password_token = NULL`
	softDeleteQuery              = `(?s)UPDATE users SET deleted_at = \?, updated_at = \?,`
	countUsersQuery              = `(?s)SELECT COUNT\(\*\) FROM users WHERE deleted_at IS NULL`
	listUsersQuery               = `(?s)SELECT id, username, email, .+ FROM users WHERE deleted_at IS NULL\s+ORDER BY created_at DESC, id DESC\s+LIMIT \? OFFSET \?`
	batchRolesQuery              = `(?s)SELECT user_id, role_id FROM user_roles WHERE user_id IN`
	insertRefreshTokenQuery      = `(?s)INSERT INTO refresh_tokens \(user_id, token, expires_at, created_at, created_by_ip\)`
	findRefreshTokenForUpdate    = `(?s)SELECT id, user_id, token, .+ FROM refresh_tokens WHERE token = \? FOR UPDATE`
	revokeRefreshTokenQuery      = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?, replaced_by_token = \?\s+WHERE id = \? AND revoked_at IS NULL`
	revokeForUserQuery           = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?\s+WHERE token = \? AND user_id = \? AND revoked_at IS NULL`
	revokeAllForUserQuery        = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?\s+WHERE user_id = \? AND revoked_at IS NULL`
)

const testClientIP = "203.0.113.7"

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:   "test-access-secret",
			AccessTokenTTL: 15 * time.Minute,
		},
		Password: config.PasswordConfig{
			BcryptCost: bcrypt.MinCost,
			Policy:     config.PasswordPolicy{MinLength: 6},
		},
		Links: config.LinkConfig{
			AppBaseURL:  "https://api.example.com",
			FrontendURL: "https://app.example.com",
		},
	}
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

type userRowOpts struct {
	id                uint64
	username          string
	email             string
	passwordHash      string
	profileImage      interface{}
	verified          bool
	verificationToken interface{}
	resetToken        interface{}
	resetExpiresAt    interface{}
}

func userRows(o userRowOpts) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		o.id,
		o.username,
		o.email,
		o.passwordHash,
		o.profileImage,
		o.verified,
		o.verificationToken,
		o.resetToken,
		o.resetExpiresAt,
		nil,
		now,
		now,
	)
}

func roleRows(ids ...uint8) *sqlmock.Rows {
	rows := sqlmock.NewRows(roleColumns)
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

// captureArg matches any string argument and remembers it.
type captureArg struct {
	value string
}

func (c *captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	c.value = s
	return true
}

type timeAfterArg struct {
	after time.Time
}

func (a timeAfterArg) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && ts.After(a.after)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) Close() error {
	return nil
}

func (m *recordingMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]mail.Message(nil), m.sent...)
}

type stubImages struct {
	mu      sync.Mutex
	next    int
	saved   []string
	removed []string
	saveErr error
}

func (s *stubImages) Save(_ *multipart.FileHeader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.next++
	name := fmt.Sprintf("image-%d.png", s.next)
	s.saved = append(s.saved, name)
	return name, nil
}

func (s *stubImages) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed = append(s.removed, name)
	return nil
}

type testEnv struct {
	db      *sql.DB
	mock    sqlmock.Sqlmock
	cfg     *config.Config
	tokens  *service.TokenService
	account service.AccountService
	users   service.UserService
	mailer  *recordingMailer
	images  *stubImages
}

func newTestEnv(t *testing.T, opts ...service.Option) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	userRepo := repository.NewUserRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	tokens := service.NewTokenService(db, refreshRepo, cfg)
	mailer := &recordingMailer{}
	images := &stubImages{}

	opts = append([]service.Option{service.WithAsyncRunner(func(task func()) { task() })}, opts...)

	return &testEnv{
		db:      db,
		mock:    mock,
		cfg:     cfg,
		tokens:  tokens,
		account: service.NewAccountService(db, userRepo, tokens, mailer, images, cfg, opts...),
		users:   service.NewUserService(db, userRepo, tokens, images, opts...),
		mailer:  mailer,
		images:  images,
	}
}

func (e *testEnv) assertExpectations(t *testing.T) {
	t.Helper()

	if err := e.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
