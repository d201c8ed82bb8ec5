package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/service"
)

type fakeUsers struct {
	err        error
	views      []model.UserView
	lastFilter model.UserFilter
	lastPatch  model.UserPatch
	lastActor  service.Actor
	lastID     string
	growthDays int
}

func (f *fakeUsers) CreateUser(_ context.Context, actor service.Actor, req model.NewUser) (*model.UserView, error) {
	f.lastActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserView{ID: "new", Username: req.Username, Email: req.Email}, nil
}

func (f *fakeUsers) Register(_ context.Context, _ model.ClientInfo, req model.NewUser) (*model.UserView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserView{ID: "reg", Username: req.Username, Role: model.RoleUser}, nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, actor service.Actor, id string, patch model.UserPatch) (*model.UserView, error) {
	f.lastActor, f.lastID, f.lastPatch = actor, id, patch
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserView{ID: id}, nil
}

func (f *fakeUsers) DeleteUser(_ context.Context, actor service.Actor, id string) error {
	f.lastActor, f.lastID = actor, id
	return f.err
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*model.UserView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserView{ID: id}, nil
}

func (f *fakeUsers) GetUsers(_ context.Context, filter model.UserFilter) iter.Seq2[model.UserView, error] {
	f.lastFilter = filter
	return func(yield func(model.UserView, error) bool) {
		if f.err != nil {
			yield(model.UserView{}, f.err)
			return
		}
		for _, v := range f.views {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func (f *fakeUsers) GetUserStatistics(context.Context) (*model.UserStatistics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserStatistics{TotalUsers: 3, ActiveUsers: 2, NewUsers: 1, AdminUsers: 1}, nil
}

func (f *fakeUsers) GetRoleDistribution(context.Context) ([]model.RoleCount, error) {
	return []model.RoleCount{{Role: model.RoleAdmin, Count: 1}, {Role: model.RoleAnalyst}, {Role: model.RoleUser, Count: 2}}, f.err
}

func (f *fakeUsers) GetUserGrowth(_ context.Context, days int) ([]model.GrowthPoint, error) {
	f.growthDays = days
	if f.err != nil {
		return nil, f.err
	}
	return make([]model.GrowthPoint, days), nil
}

type fakeSessions struct {
	err       error
	loggedOut string
	revokedID string
}

func (f *fakeSessions) Login(_ context.Context, username, password string, _ model.ClientInfo) (*service.LoginResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if username != "alice" || password != "Abcdef12" {
		return nil, fmt.Errorf("%w: invalid username or password", model.ErrAuthentication)
	}
	return &service.LoginResult{
		Session: &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
		Token:   "tok",
		User:    model.UserView{ID: "u1", Username: "alice"},
	}, nil
}

func (f *fakeSessions) Logout(_ context.Context, sessionID string, _ model.ClientInfo) error {
	f.loggedOut = sessionID
	return f.err
}

func (f *fakeSessions) InvalidateUserSessions(_ context.Context, _ service.Actor, userID string) (int64, error) {
	f.revokedID = userID
	return 2, f.err
}

type fakeRoles struct {
	err error
}

func (f *fakeRoles) ListRoles(context.Context) ([]model.RoleDefinition, error) {
	return []model.RoleDefinition{{Role: model.RoleAdmin, Permissions: []model.Permission{model.PermAdminAll}}}, f.err
}

func (f *fakeRoles) UpdateRolePermissions(_ context.Context, _ service.Actor, role model.Role, perms []model.Permission) (*model.RoleDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.RoleDefinition{Role: role, Permissions: perms}, nil
}

type fakeActivity struct {
	start, end time.Time
	filter     model.ActivityFilter
	err        error
}

func (f *fakeActivity) GetActivityLogs(_ context.Context, _ service.Actor, start, end time.Time, filter model.ActivityFilter) (iter.Seq2[*model.ActivityLog, error], error) {
	f.start, f.end, f.filter = start, end, filter
	if f.err != nil {
		return nil, f.err
	}
	return func(yield func(*model.ActivityLog, error) bool) {
		yield(&model.ActivityLog{ID: "a1", UserID: "u1", Action: model.AuditActionLogin, Timestamp: start}, nil)
	}, nil
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

type fakeAuthn struct{}

func (fakeAuthn) Authenticate(_ context.Context, token string) (*model.User, *model.Session, error) {
	if token != "tok" {
		return nil, nil, fmt.Errorf("%w: bad token", model.ErrAuthentication)
	}
	return &model.User{ID: "u1", Username: "alice", Email: "a@b.com", Role: model.RoleUser, Status: model.UserStatusActive},
		&model.Session{ID: "s1", UserID: "u1"}, nil
}

type testEnv struct {
	h        *Handler
	mw       *middleware.Middleware
	users    *fakeUsers
	sessions *fakeSessions
	roles    *fakeRoles
	activity *fakeActivity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Security.RateLimiting.Enabled = false
	log := logger.Nop()

	env := &testEnv{
		users:    &fakeUsers{},
		sessions: &fakeSessions{},
		roles:    &fakeRoles{},
		activity: &fakeActivity{},
	}
	env.h = New(log, cfg, env.users, env.sessions, env.roles, env.activity, map[string]HealthChecker{
		"postgres": fakeCheck{},
		"redis":    fakeCheck{},
	})
	env.mw = middleware.New(nil, log, cfg)
	return env
}

// serve runs fn behind the auth middleware when token is set
func (e *testEnv) serve(fn http.HandlerFunc, req *http.Request, token string) *httptest.ResponseRecorder {
	var h http.Handler = fn
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		h = e.mw.Auth(fakeAuthn{})(h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, map[string]interface{}) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.Details
}

func TestWriteServiceErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.NewValidationError("email", "email.format", "bad"), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("login: %w", model.ErrAuthentication), http.StatusUnauthorized, "authentication_failed"},
		{&model.AuthorizationError{Permission: model.PermManageUsers}, http.StatusForbidden, "permission_denied"},
		{fmt.Errorf("get user: %w", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{&model.ConflictError{Field: "email"}, http.StatusConflict, "conflict"},
		{fmt.Errorf("list: %w", model.ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			code, _ := decodeError(t, rec)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestValidationErrorDetails(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		model.NewValidationError("password", "password.digit", "password must contain a digit"))

	_, details := decodeError(t, rec)
	assert.Equal(t, "password", details["field"])
	assert.Equal(t, "password.digit", details["rule"])
}

func TestLoginSetsCookieAndReturnsToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"alice","password":"Abcdef12"}`))

	rec := env.serve(env.h.Login, req, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tok", body.Token)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "alice", body.User.Username)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, env.h.cfg.Sessions.CookieName, cookies[0].Name)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.h.Login, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"alice","password":"wrong"}`)), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = env.serve(env.h.Login, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"","password":"x"}`)), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.serve(env.h.Login, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`)), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	rec := env.serve(env.h.Logout, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", env.sessions.loggedOut)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestLogoutAllRevokesOwnSessions(t *testing.T) {
	env := newTestEnv(t)
	rec := env.serve(env.h.LogoutAll, httptest.NewRequest(http.MethodPost, "/", nil), "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", env.sessions.revokedID)
	assert.JSONEq(t, `{"revoked":2}`, rec.Body.String())
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	body := `{"email":"b@c.com","username":"bob","password":"Abcdef12"}`
	rec := env.serve(env.h.Register, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	env.users.err = fmt.Errorf("%w: self-registration is disabled", model.ErrAuthorization)
	rec = env.serve(env.h.Register, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.serve(env.h.GetCurrentUser, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	var view model.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "alice", view.Username)
}

func TestUpdateCurrentUserTargetsSelf(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/me", strings.NewReader(`{"fullName":"Alice A"}`))
	rec := env.serve(env.h.UpdateCurrentUser, req, "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", env.users.lastID)
	require.NotNil(t, env.users.lastPatch.FullName)
	assert.Equal(t, "Alice A", *env.users.lastPatch.FullName)
	assert.Equal(t, "u1", env.users.lastActor.ID())
}

func TestListUsersParsesFilter(t *testing.T) {
	env := newTestEnv(t)
	env.users.views = []model.UserView{{ID: "1"}, {ID: "2"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?search=ali&role=admin,analyst&limit=10&offset=5", nil)
	rec := env.serve(env.h.ListUsers, req, "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ali", env.users.lastFilter.Search)
	assert.Equal(t, []model.Role{model.RoleAdmin, model.RoleAnalyst}, env.users.lastFilter.Roles)
	assert.Equal(t, 10, env.users.lastFilter.Limit)
	assert.Equal(t, 5, env.users.lastFilter.Offset)

	var body listUsersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Users, 2)
}

func TestListUsersDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.h.ListUsers, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultPageSize, env.users.lastFilter.Limit)
	assert.JSONEq(t, `{"users":[],"limit":100,"offset":0}`, rec.Body.String())

	for _, q := range []string{"role=superuser", "limit=0", "limit=5000", "limit=abc", "offset=x"} {
		rec := env.serve(env.h.ListUsers, httptest.NewRequest(http.MethodGet, "/api/v1/users?"+q, nil), "tok")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListUsersStreamError(t *testing.T) {
	env := newTestEnv(t)
	env.users.err = fmt.Errorf("list users: %w", model.ErrServiceUnavailable)

	rec := env.serve(env.h.ListUsers, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil), "tok")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUserCRUDHandlers(t *testing.T) {
	env := newTestEnv(t)

	t.Run("create", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"email":"c@d.com","username":"carol","password":"Abcdef12","role":"analyst"}`))
		rec := env.serve(env.h.CreateUser, req, "tok")
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "u1", env.users.lastActor.ID())
	})

	t.Run("create rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"email":"c@d.com","isAdmin":true}`))
		rec := env.serve(env.h.CreateUser, req, "tok")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u9", nil)
		req.SetPathValue("id", "u9")
		rec := env.serve(env.h.GetUser, req, "tok")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"u9"`)
	})

	t.Run("patch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/u9", strings.NewReader(`{"role":"analyst"}`))
		req.SetPathValue("id", "u9")
		rec := env.serve(env.h.UpdateUser, req, "tok")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u9", env.users.lastID)
		require.NotNil(t, env.users.lastPatch.Role)
		assert.Equal(t, model.RoleAnalyst, *env.users.lastPatch.Role)
	})

	t.Run("delete", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/u9", nil)
		req.SetPathValue("id", "u9")
		rec := env.serve(env.h.DeleteUser, req, "tok")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "u9", env.users.lastID)
	})

	t.Run("revoke sessions", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u9/sessions/revoke", nil)
		req.SetPathValue("id", "u9")
		rec := env.serve(env.h.RevokeUserSessions, req, "tok")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u9", env.sessions.revokedID)
	})

	t.Run("not found", func(t *testing.T) {
		env.users.err = fmt.Errorf("get user: %w", model.ErrNotFound)
		defer func() { env.users.err = nil }()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/missing", nil)
		req.SetPathValue("id", "missing")
		rec := env.serve(env.h.GetUser, req, "tok")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatisticsHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.h.GetUserStatistics, httptest.NewRequest(http.MethodGet, "/", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalUsers":3`)

	rec = env.serve(env.h.GetRoleDistribution, httptest.NewRequest(http.MethodGet, "/", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `{"role":"analyst","count":0}`)

	rec = env.serve(env.h.GetUserGrowth, httptest.NewRequest(http.MethodGet, "/?days=7", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, env.users.growthDays)

	rec = env.serve(env.h.GetUserGrowth, httptest.NewRequest(http.MethodGet, "/", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultGrowthDays, env.users.growthDays)

	rec = env.serve(env.h.GetUserGrowth, httptest.NewRequest(http.MethodGet, "/?days=week", nil), "tok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.h.ListRoles, httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"admin:all"`)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/roles/analyst", strings.NewReader(`{"permissions":["read:metrics"]}`))
	req.SetPathValue("role", "analyst")
	rec = env.serve(env.h.UpdateRole, req, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"role":"analyst","permissions":["read:metrics"]}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPut, "/api/v1/roles/owner", strings.NewReader(`{"permissions":[]}`))
	req.SetPathValue("role", "owner")
	rec = env.serve(env.h.UpdateRole, req, "tok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActivity(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/activity?start=2024-06-01T00:00:00Z&end=2024-06-02T00:00:00Z&user_id=u1&action=user.login&limit=5", nil)
	rec := env.serve(env.h.ListActivity, req, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), env.activity.start)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), env.activity.end)
	assert.Equal(t, model.ActivityFilter{UserID: "u1", Action: "user.login", Limit: 5}, env.activity.filter)
	assert.Contains(t, rec.Body.String(), `"id":"a1"`)

	rec = env.serve(env.h.ListActivity, httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultActivityWindow, env.activity.end.Sub(env.activity.start))
	assert.Equal(t, DefaultPageSize, env.activity.filter.Limit)

	rec = env.serve(env.h.ListActivity, httptest.NewRequest(http.MethodGet, "/api/v1/activity?start=yesterday", nil), "tok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, limit := range []string{"0", "1001"} {
		rec = env.serve(env.h.ListActivity, httptest.NewRequest(http.MethodGet, "/api/v1/activity?limit="+limit, nil), "tok")
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		_, details := decodeError(t, rec)
		assert.Equal(t, "limit.range", details["rule"], limit)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Services["redis"])

	env.h.checks["redis"] = fakeCheck{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	env.h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unhealthy", body.Services["redis"])

	rec = httptest.NewRecorder()
	env.h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
