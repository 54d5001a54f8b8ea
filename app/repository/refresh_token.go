package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

const refreshTokenColumns = `id, user_id, token, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token`

type RefreshTokenRepository struct {
	db DBTX
}

func NewRefreshTokenRepository(db DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *entity.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token, expires_at, created_at, created_by_ip)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
		token.CreatedByIP,
	)
	if err != nil {
		return mapDuplicateKey(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	token.ID = uint64(id)
	return nil
}

// FindByTokenForUpdate must run inside a transaction; it locks the row until commit.
func (r *RefreshTokenRepository) FindByTokenForUpdate(ctx context.Context, token string) (*entity.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens WHERE token = ? FOR UPDATE
	`
	return r.findOne(ctx, query, token)
}

// Revoke marks the row revoked only if nobody revoked it first; the returned
// count is 0 when the row was already revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id uint64, revokedAt time.Time, revokedByIP string, replacedBy sql.NullString) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = ?, revoked_by_ip = ?, replaced_by_token = ?
		WHERE id = ? AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, revokedAt, revokedByIP, replacedBy, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *RefreshTokenRepository) RevokeForUser(ctx context.Context, token string, userID uint64, revokedAt time.Time, revokedByIP string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = ?, revoked_by_ip = ?
		WHERE token = ? AND user_id = ? AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, revokedAt, revokedByIP, token, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uint64, revokedAt time.Time, revokedByIP string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = ?, revoked_by_ip = ?
		WHERE user_id = ? AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, revokedAt, revokedByIP, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *RefreshTokenRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.RefreshToken, error) {
	rt := &entity.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.CreatedByIP,
		&rt.RevokedAt,
		&rt.RevokedByIP,
		&rt.ReplacedByToken,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rt, nil
}
