package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/model"
)

func newMockDB(t *testing.T) (*database.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &database.Postgres{DB: db}, mock
}

var userRowColumns = []string{
	"id", "email", "username", "full_name", "role", "status", "permissions",
	"password_hash", "settings", "created_at", "updated_at", "last_login_at",
}

func TestUserRepositoryCreateDuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	now := time.Now()
	err := repo.Create(context.Background(), &model.User{
		ID: "u1", Email: "a@b.com", Username: "alice",
		Role: model.RoleUser, Status: model.UserStatusActive,
		CreatedAt: now, UpdatedAt: now,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "email", dup.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			"u1", "a@b.com", "alice", nil, "analyst", "active", "{read:metrics,admin:all}",
			"$argon2id$hash", []byte(`{"theme":"dark"}`), created, created, nil,
		))

	user, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, model.RoleAnalyst, user.Role)
	assert.Equal(t, []model.Permission{model.PermReadMetrics, model.PermAdminAll}, user.Permissions)
	assert.Equal(t, "dark", user.Settings["theme"])
	assert.Nil(t, user.FullName)
	assert.Nil(t, user.LastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryMalformedIDIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	malformed := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(malformed)
	_, err := repo.GetByID(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(malformed)
	assert.ErrorIs(t, repo.Delete(context.Background(), "abc"), ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status")).
		WillReturnError(malformed)
	err = repo.UpdateStatus(context.Background(), "abc", model.UserStatusInactive, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGrowthBucketsByUTCDay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("date_trunc('day', created_at AT TIME ZONE 'UTC')")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).AddRow(day, 3))

	points, err := repo.Growth(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, day, points[0].Date)
	assert.Equal(t, 3, points[0].Users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryUpdateMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &model.User{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryTimeoutIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users").WillReturnError(context.DeadlineExceeded)

	_, err := repo.GetByEmail(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUserRepositoryListIsLazyAndFiltered(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	seq := repo.List(context.Background(), model.UserFilter{
		Search: "ali",
		Roles:  []model.Role{model.RoleAdmin, model.RoleUser},
		Limit:  10,
	})
	// nothing runs until iteration
	require.NoError(t, mock.ExpectationsWereMet())

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (email ILIKE $1 OR username ILIKE $1 OR COALESCE(full_name, '') ILIKE $1) AND role = ANY($2) ORDER BY created_at, id LIMIT $3")).
		WithArgs("%ali%", sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", "alice@b.com", "alice", nil, "user", "active", "{}", "h", []byte(`{}`), now, now, nil).
			AddRow("u2", "ali@b.com", "ali", "Ali", "admin", "active", "{admin:all}", "h", []byte(`{}`), now, now, now))

	var ids []string
	for user, err := range seq {
		require.NoError(t, err)
		ids = append(ids, user.ID)
	}
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryStatistics(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	since := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery("FILTER").
		WithArgs(model.UserStatusActive, since, model.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "new", "admin"}).AddRow(10, 7, 3, 2))

	stats, err := repo.Statistics(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalUsers)
	assert.Equal(t, 7, stats.ActiveUsers)
	assert.Equal(t, 3, stats.NewUsers)
	assert.Equal(t, 2, stats.AdminUsers)
}

func TestUserRepositoryRoleDistribution(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery("GROUP BY role").
		WillReturnRows(sqlmock.NewRows([]string{"role", "count"}).
			AddRow("admin", 1).
			AddRow("user", 4))

	dist, err := repo.RoleDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.RoleCount{{Role: model.RoleAdmin, Count: 1}, {Role: model.RoleUser, Count: 4}}, dist)
}

func TestFieldFromConstraint(t *testing.T) {
	assert.Equal(t, "email", fieldFromConstraint("users_email_key"))
	assert.Equal(t, "username", fieldFromConstraint("users_username_key"))
	assert.Equal(t, "record", fieldFromConstraint(""))
}
