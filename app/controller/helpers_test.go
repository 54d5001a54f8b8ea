package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/controller"
	"github.com/vibast-solutions/ms-go-accounts/app/mail"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	findByEmailQuery             = `(?s)SELECT id, username, email, .+ FROM users WHERE email = \? AND deleted_at IS NULL`
	findByUsernameQuery          = `(?s)SELECT id, username, email, .+ FROM users WHERE username = \? AND deleted_at IS NULL`
	findByIDQuery                = `(?s)SELECT id, username, email, .+ FROM users WHERE id = \? AND deleted_at IS NULL`
	findByVerificationTokenQuery = `(?s)SELECT id, username, email, .+ FROM users WHERE verification_token = \? AND deleted_at IS NULL`
	listUserRolesQuery           = `(?s)SELECT role_id FROM user_roles WHERE user_id = \? ORDER BY role_id`
	insertUserQuery              = `(?s)INSERT INTO users \(username, email, password_hash, profile_image, email_verified, verification_token, created_at, updated_at\)`
	insertUserRoleQuery          = `(?s)INSERT INTO user_roles \(user_id, role_id\) VALUES \(\?, \?\)`
	consumeVerificationStmt      = `(?s)UPDATE users SET email_verified = 1, verification_token = NULL`
	countUsersQuery              = `(?s)SELECT COUNT\(\*\) FROM users WHERE deleted_at IS NULL`
	listUsersQuery               = `(?s)SELECT id, username, email, .+ FROM users WHERE deleted_at IS NULL.+LIMIT \? OFFSET \?`
	batchRolesQuery              = `(?s)SELECT user_id, role_id FROM user_roles WHERE user_id IN`
	findRefreshTokenForUpdate    = `(?s)SELECT id, user_id, token, .+ FROM refresh_tokens WHERE token = \? FOR UPDATE`
	insertRefreshTokenQuery      = `(?s)INSERT INTO refresh_tokens \(user_id, token, expires_at, created_at, created_by_ip\)`
	updateLastLoginQuery         = `(?s)UPDATE users SET last_login_at = \? WHERE id = \?`
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
)

func userRow(id uint64, username, email, passwordHash string, verified bool, verificationToken interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		id, username, email, passwordHash, nil, verified, verificationToken, nil, nil, nil, now, now,
	)
}

func expectRoles(mock sqlmock.Sqlmock, userID uint64, roles ...uint8) {
	rows := sqlmock.NewRows([]string{"role_id"})
	for _, r := range roles {
		rows.AddRow(r)
	}
	mock.ExpectQuery(listUserRolesQuery).
		WithArgs(userID).
		WillReturnRows(rows)
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Close() error {
	return nil
}

type noopImages struct{}

func (noopImages) Save(_ *multipart.FileHeader) (string, error) { return "avatar.png", nil }
func (noopImages) Remove(_ string) error                        { return nil }

type controllerEnv struct {
	mock   sqlmock.Sqlmock
	tokens *service.TokenService
	auth   *controller.AuthController
	users  *controller.UserController
	health *controller.HealthController
	mailer *fakeMailer
}

func newControllerEnv(t *testing.T, frontendVerifiedURL string) *controllerEnv {
	t.Helper()

	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:   "test-secret",
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

	userRepo := repository.NewUserRepository(db)
	tokens := service.NewTokenService(db, repository.NewRefreshTokenRepository(db), cfg)
	mailer := &fakeMailer{}
	syncRunner := service.WithAsyncRunner(func(task func()) { task() })

	accounts := service.NewAccountService(db, userRepo, tokens, mailer, noopImages{}, cfg, syncRunner)
	users := service.NewUserService(db, userRepo, tokens, noopImages{}, syncRunner)
	imageBaseURL := cfg.Links.AppBaseURL + "/uploads"

	return &controllerEnv{
		mock:   mock,
		tokens: tokens,
		auth:   controller.NewAuthController(accounts, users, frontendVerifiedURL, imageBaseURL),
		users:  controller.NewUserController(users, imageBaseURL),
		health: controller.NewHealthController(db, nil),
		mailer: mailer,
	}
}

func (e *controllerEnv) assertExpectations(t *testing.T) {
	t.Helper()

	if err := e.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func newJSONRequest(t *testing.T, method, path string, body any) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.7")
	return req, httptest.NewRecorder()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response json: %v (%s)", err, rec.Body.String())
	}
	return body
}
