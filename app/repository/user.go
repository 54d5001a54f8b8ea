package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

const userColumns = `id, username, email, password_hash, profile_image, email_verified, verification_token,
		       reset_password_token, reset_password_expires_at, last_login_at, created_at, updated_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

type ListUsersFilter struct {
	Page     int
	PageSize int
	Search   string
}

func (f ListUsersFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, profile_image, email_verified, verification_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.ProfileImage,
		user.EmailVerified,
		user.VerificationToken,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return mapDuplicateKey(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = uint64(id)
	return nil
}

func (r *UserRepository) AddRole(ctx context.Context, userID uint64, role entity.Role) error {
	query := `INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`
	_, err := r.db.ExecContext(ctx, query, userID, uint8(role))
	return err
}

func (r *UserRepository) Roles(ctx context.Context, userID uint64) (entity.Roles, error) {
	query := `SELECT role_id FROM user_roles WHERE user_id = ? ORDER BY role_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make(entity.Roles, 0, 1)
	for rows.Next() {
		var id uint8
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		roles = append(roles, entity.Role(id))
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE email = ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, email)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE username = ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, username)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) FindByVerificationToken(ctx context.Context, token string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE verification_token = ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, token)
}

// FindByResetTokenNotExpired treats an expired reset token exactly like a missing one.
func (r *UserRepository) FindByResetTokenNotExpired(ctx context.Context, token string, now time.Time) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE reset_password_token = ? AND reset_password_expires_at > ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, token, now)
}

// UpdateProfile writes only the profile columns, leaving token and
// verification state to the statements that own them.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID uint64, username, email string, profileImage sql.NullString, now time.Time) error {
	query := `
		UPDATE users SET username = ?, email = ?, profile_image = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, username, email, profileImage, now, userID)
	return mapDuplicateKey(err)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID uint64, passwordHash string, now time.Time) error {
	query := `
		UPDATE users SET password_hash = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, passwordHash, now, userID)
	return err
}

// SetResetToken replaces any outstanding reset token of the user.
func (r *UserRepository) SetResetToken(ctx context.Context, userID uint64, token string, expiresAt, now time.Time) error {
	query := `
		UPDATE users SET reset_password_token = ?, reset_password_expires_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, token, expiresAt, now, userID)
	return mapDuplicateKey(err)
}

// SetVerificationToken stores token only for an unverified user that holds no
// token yet; it reports whether the row was changed.
func (r *UserRepository) SetVerificationToken(ctx context.Context, userID uint64, token string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET verification_token = ?, updated_at = ?
		WHERE id = ? AND email_verified = 0 AND (verification_token IS NULL OR verification_token = '') AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, token, now, userID)
	if err != nil {
		return false, mapDuplicateKey(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ConsumeVerificationToken marks the user verified only if it still holds
// token; it reports whether this call performed the transition.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, userID uint64, token string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET email_verified = 1, verification_token = NULL, updated_at = ?
		WHERE id = ? AND verification_token = ? AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, now, userID, token)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ConsumeResetToken sets a new password hash only if the user still holds an
// unexpired reset token equal to token, clearing the token in the same statement.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, userID uint64, token, passwordHash string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET password_hash = ?, reset_password_token = NULL, reset_password_expires_at = NULL, updated_at = ?
		WHERE id = ? AND reset_password_token = ? AND reset_password_expires_at > ? AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, passwordHash, now, userID, token, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error {
	query := `UPDATE users SET last_login_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, lastLogin, userID)
	return err
}

func (r *UserRepository) SoftDelete(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	query := `
		UPDATE users SET deleted_at = ?, updated_at = ?,
			verification_token = NULL, reset_password_token = NULL, reset_password_expires_at = NULL
		WHERE id = ? AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, now, now, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// List returns one page of live users, newest first, and the total number of
// users matching the filter.
func (r *UserRepository) List(ctx context.Context, filter ListUsersFilter) ([]*entity.User, int64, error) {
	where := `WHERE deleted_at IS NULL`
	args := make([]interface{}, 0, 4)
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		where += ` AND (username LIKE ? OR email LIKE ?)`
		args = append(args, pattern, pattern)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM users ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + userColumns + `
		FROM users ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.PageSize, filter.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*entity.User, 0, filter.PageSize)
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	if err = r.attachRoles(ctx, users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) attachRoles(ctx context.Context, users []*entity.User) error {
	if len(users) == 0 {
		return nil
	}

	byID := make(map[uint64]*entity.User, len(users))
	placeholders := make([]string, 0, len(users))
	args := make([]interface{}, 0, len(users))
	for _, u := range users {
		u.Roles = entity.Roles{}
		byID[u.ID] = u
		placeholders = append(placeholders, "?")
		args = append(args, u.ID)
	}

	query := `SELECT user_id, role_id FROM user_roles WHERE user_id IN (` + strings.Join(placeholders, ", ") + `) ORDER BY user_id, role_id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userID uint64
		var roleID uint8
		if err = rows.Scan(&userID, &roleID); err != nil {
			return err
		}
		if u, ok := byID[userID]; ok {
			u.Roles = append(u.Roles, entity.Role(roleID))
		}
	}
	return rows.Err()
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	roles, err := r.Roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

func scanUser(scan rowScanner) (*entity.User, error) {
	user := &entity.User{}
	err := scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.ProfileImage,
		&user.EmailVerified,
		&user.VerificationToken,
		&user.ResetPasswordToken,
		&user.ResetPasswordExpiresAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
