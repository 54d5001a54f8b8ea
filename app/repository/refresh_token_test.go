package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	insertRefreshTokenQuery = `(?s)INSERT INTO refresh_tokens \(user_id, token, expires_at, created_at, created_by_ip\)\s+VALUES \(\?, \?, \?, \?, \?\)`
	findRefreshForUpdate    = `(?s)SELECT id, user_id, token, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token\s+FROM refresh_tokens WHERE token = \? FOR UPDATE`
	revokeRefreshQuery      = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?, replaced_by_token = \?\s+WHERE id = \? AND revoked_at IS NULL`
	revokeForUserQuery      = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?\s+WHERE token = \? AND user_id = \? AND revoked_at IS NULL`
	revokeAllQuery          = `(?s)UPDATE refresh_tokens SET revoked_at = \?, revoked_by_ip = \?\s+WHERE user_id = \? AND revoked_at IS NULL`
)

var refreshTokenColumns = []string{
	"id", "user_id", "token", "expires_at", "created_at", "created_by_ip", "revoked_at", "revoked_by_ip", "replaced_by_token",
}

func TestRefreshTokenRepository_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewRefreshTokenRepository(db)
	now := time.Now()
	token := &entity.RefreshToken{
		UserID:      2,
		Token:       "abc",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		CreatedByIP: "10.0.0.1",
	}

	mock.ExpectExec(insertRefreshTokenQuery).
		WithArgs(uint64(2), "abc", token.ExpiresAt, now, "10.0.0.1").
		WillReturnResult(sqlmock.NewResult(11, 1))

	if err := repo.Create(context.Background(), token); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if token.ID != 11 {
		t.Fatalf("expected ID 11, got %d", token.ID)
	}
}

func TestRefreshTokenRepository_FindByTokenForUpdate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdate).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).
			AddRow(uint64(1), uint64(2), "abc", now.Add(time.Hour), now, "10.0.0.1", now, "10.0.0.2", "next"))
	mock.ExpectCommit()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	token, err := repository.NewRefreshTokenRepository(tx).FindByTokenForUpdate(context.Background(), "abc")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if !token.IsRevoked() || token.ReplacedByToken.String != "next" || token.RevokedByIP.String != "10.0.0.2" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if token.IsActive(now) {
		t.Fatalf("revoked token must not be active")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_FindByTokenForUpdate_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(findRefreshForUpdate).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns))

	token, err := repository.NewRefreshTokenRepository(db).FindByTokenForUpdate(context.Background(), "missing")
	if err != nil || token != nil {
		t.Fatalf("expected nil token, got %+v, %v", token, err)
	}
}

func TestRefreshTokenRepository_RevokeIsConditional(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewRefreshTokenRepository(db)
	now := time.Now()
	replacedBy := sql.NullString{String: "next", Valid: true}

	mock.ExpectExec(revokeRefreshQuery).
		WithArgs(now, "10.0.0.1", replacedBy, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(revokeRefreshQuery).
		WithArgs(now, "10.0.0.1", replacedBy, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := repo.Revoke(context.Background(), 5, now, "10.0.0.1", replacedBy)
	if err != nil || affected != 1 {
		t.Fatalf("expected first revoke to win, got %d %v", affected, err)
	}
	affected, err = repo.Revoke(context.Background(), 5, now, "10.0.0.1", replacedBy)
	if err != nil || affected != 0 {
		t.Fatalf("expected second revoke to be a no-op, got %d %v", affected, err)
	}
}

func TestRefreshTokenRepository_RevokeForUser(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec(revokeForUserQuery).
		WithArgs(now, "ip", "abc", uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repository.NewRefreshTokenRepository(db).RevokeForUser(context.Background(), "abc", 3, now, "ip")
	if err != nil || affected != 1 {
		t.Fatalf("expected one row revoked, got %d %v", affected, err)
	}
}

func TestRefreshTokenRepository_RevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec(revokeAllQuery).
		WithArgs(now, "ip", uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	affected, err := repository.NewRefreshTokenRepository(db).RevokeAllForUser(context.Background(), 3, now, "ip")
	if err != nil || affected != 4 {
		t.Fatalf("expected four rows revoked, got %d %v", affected, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
