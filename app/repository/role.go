package repository

import (
	"context"
	"strings"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

type RoleRepository struct {
	db DBTX
}

func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// Seed inserts the fixed role rows; existing rows are left alone.
func (r *RoleRepository) Seed(ctx context.Context) error {
	placeholders := make([]string, 0, len(entity.AllRoles))
	args := make([]interface{}, 0, 2*len(entity.AllRoles))
	for _, role := range entity.AllRoles {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, uint8(role), role.String())
	}

	query := `INSERT IGNORE INTO roles (id, name) VALUES ` + strings.Join(placeholders, ", ")
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
