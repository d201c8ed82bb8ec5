package repository

import (
	"context"
	"database/sql"

	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/model"
)

// RoleRepository persists the role → permission catalogue
type RoleRepository struct {
	db *database.Postgres
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *database.Postgres) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns the catalogued permissions of every role that has any
func (r *RoleRepository) List(ctx context.Context) (map[model.Role][]model.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, permission`)
	if err != nil {
		return nil, classify("list role permissions", err)
	}
	defer rows.Close()

	result := make(map[model.Role][]model.Permission)
	for rows.Next() {
		var (
			role model.Role
			perm model.Permission
		)
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, classify("scan role permission", err)
		}
		result[role] = append(result[role], perm)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list role permissions", err)
	}
	return result, nil
}

// Replace swaps the catalogued permissions of role atomically
func (r *RoleRepository) Replace(ctx context.Context, role model.Role, perms []model.Permission) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role = $1`, role); err != nil {
			return err
		}
		for _, p := range perms {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role, permission) VALUES ($1, $2)`, role, p); err != nil {
				return err
			}
		}
		return nil
	})
	return classify("replace role permissions", err)
}
