package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/model"
)

const userColumns = `id, email, username, full_name, role, status, permissions,
	password_hash, settings, created_at, updated_at, last_login_at`

// UserRepository handles user data persistence
type UserRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. Email and username collisions surface as
// DuplicateError from the table's unique constraints.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	settings, err := marshalMap(user.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, email, username, full_name, role, status, permissions,
		    password_hash, settings, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.FullName,
		user.Role,
		user.Status,
		pq.Array(permissionStrings(user.Permissions)),
		user.PasswordHash,
		settings,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLogin,
	)
	return classify("create user", err)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// Update writes every mutable column of user
func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	settings, err := marshalMap(user.Settings)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET email = $1, username = $2, full_name = $3, role = $4, status = $5,
		    permissions = $6, password_hash = $7, settings = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.Username,
		user.FullName,
		user.Role,
		user.Status,
		pq.Array(permissionStrings(user.Permissions)),
		user.PasswordHash,
		settings,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return classify("update user", err)
	}
	return requireRow(result)
}

// UpdateLastLogin stamps the user's last successful login
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return classify("update last login", err)
	}
	return requireRow(result)
}

// UpdateStatus updates the user's status
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status model.UserStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
	if err != nil {
		return classify("update user status", err)
	}
	return requireRow(result)
}

// Delete removes the user row
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return classify("delete user", err)
	}
	return requireRow(result)
}

// List returns a lazy sequence of users matching filter, ordered by
// creation time then id. The query runs when iteration starts.
func (r *UserRepository) List(ctx context.Context, filter model.UserFilter) iter.Seq2[*model.User, error] {
	return func(yield func(*model.User, error) bool) {
		var (
			where []string
			args  []interface{}
		)
		if s := strings.TrimSpace(filter.Search); s != "" {
			args = append(args, "%"+escapeLike(s)+"%")
			n := len(args)
			where = append(where, fmt.Sprintf(
				"(email ILIKE $%d OR username ILIKE $%d OR COALESCE(full_name, '') ILIKE $%d)", n, n, n))
		}
		if len(filter.Roles) > 0 {
			roles := make([]string, len(filter.Roles))
			for i, role := range filter.Roles {
				roles[i] = string(role)
			}
			args = append(args, pq.Array(roles))
			where = append(where, fmt.Sprintf("role = ANY($%d)", len(args)))
		}

		query := `SELECT ` + userColumns + ` FROM users`
		if len(where) > 0 {
			query += ` WHERE ` + strings.Join(where, " AND ")
		}
		query += ` ORDER BY created_at, id`
		if filter.Limit > 0 {
			args = append(args, filter.Limit)
			query += fmt.Sprintf(" LIMIT $%d", len(args))
		}
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, classify("list users", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			user, err := r.scanUser(rows)
			if !yield(user, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, classify("list users", err))
		}
	}
}

// Statistics computes directory counts in a single statement so the
// figures are consistent with each other
func (r *UserRepository) Statistics(ctx context.Context, newSince time.Time) (model.UserStatistics, error) {
	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $1),
		       count(*) FILTER (WHERE created_at >= $2),
		       count(*) FILTER (WHERE role = $3)
		FROM users
	`
	var stats model.UserStatistics
	err := r.db.QueryRowContext(ctx, query, model.UserStatusActive, newSince, model.RoleAdmin).Scan(
		&stats.TotalUsers,
		&stats.ActiveUsers,
		&stats.NewUsers,
		&stats.AdminUsers,
	)
	if err != nil {
		return model.UserStatistics{}, classify("user statistics", err)
	}
	return stats, nil
}

// RoleDistribution counts users per role
func (r *UserRepository) RoleDistribution(ctx context.Context) ([]model.RoleCount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, count(*) FROM users GROUP BY role ORDER BY role`)
	if err != nil {
		return nil, classify("role distribution", err)
	}
	defer rows.Close()

	var result []model.RoleCount
	for rows.Next() {
		var rc model.RoleCount
		if err := rows.Scan(&rc.Role, &rc.Count); err != nil {
			return nil, classify("scan role distribution", err)
		}
		result = append(result, rc)
	}
	return result, classify("role distribution", rows.Err())
}

// Growth counts users created per day since the given time
func (r *UserRepository) Growth(ctx context.Context, since time.Time) ([]model.GrowthPoint, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, count(*)
		FROM users
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, classify("user growth", err)
	}
	defer rows.Close()

	var result []model.GrowthPoint
	for rows.Next() {
		var gp model.GrowthPoint
		if err := rows.Scan(&gp.Date, &gp.Users); err != nil {
			return nil, classify("scan user growth", err)
		}
		result = append(result, gp)
	}
	return result, classify("user growth", rows.Err())
}

// CountWithPermission counts users holding perm explicitly
func (r *UserRepository) CountWithPermission(ctx context.Context, perm model.Permission) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE $1 = ANY(permissions)`, string(perm)).Scan(&n)
	if err != nil {
		return 0, classify("count users with permission", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUser scans a single user row
func (r *UserRepository) scanUser(row rowScanner) (*model.User, error) {
	var (
		user         model.User
		perms        pq.StringArray
		settingsJSON []byte
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FullName,
		&user.Role,
		&user.Status,
		&perms,
		&user.PasswordHash,
		&settingsJSON,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	)
	if err != nil {
		return nil, classify("scan user", err)
	}

	user.Permissions = make([]model.Permission, 0, len(perms))
	for _, p := range perms {
		user.Permissions = append(user.Permissions, model.Permission(p))
	}

	user.Settings = map[string]interface{}{}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &user.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode user settings: %w", err)
		}
	}
	return &user, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return data, nil
}

func permissionStrings(perms []model.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
