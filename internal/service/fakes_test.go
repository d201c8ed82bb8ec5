package service

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainHasher keeps tests fast; argon2 is covered in the auth package
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain$" + password, nil }

func (plainHasher) Verify(password, credential string) (bool, error) {
	return credential == "plain$"+password, nil
}

// countingHasher records every credential Verify is asked to check
type countingHasher struct {
	plainHasher
	mu       sync.Mutex
	verified []string
}

func (h *countingHasher) Verify(password, credential string) (bool, error) {
	h.mu.Lock()
	h.verified = append(h.verified, credential)
	h.mu.Unlock()
	return h.plainHasher.Verify(password, credential)
}

func (h *countingHasher) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.verified...)
}

type memUserStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	listCalls int
	// failWith, when set, is returned by every call
	failWith error
	// raceOnCreate makes Create report a unique violation on this field
	raceOnCreate string
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*model.User{}}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Permissions = append([]model.Permission(nil), u.Permissions...)
	c.Settings = make(map[string]interface{}, len(u.Settings))
	for k, v := range u.Settings {
		c.Settings[k] = v
	}
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	if u.LastLogin != nil {
		at := *u.LastLogin
		c.LastLogin = &at
	}
	return &c
}

func (s *memUserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if s.raceOnCreate != "" {
		return &repository.DuplicateError{Field: s.raceOnCreate}
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return &repository.DuplicateError{Field: "email"}
		}
		if u.Username == user.Username {
			return &repository.DuplicateError{Field: "username"}
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memUserStore) find(match func(*model.User) bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.ID == id })
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Username == username })
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == email })
}

func (s *memUserStore) Update(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memUserStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (s *memUserStore) UpdateStatus(_ context.Context, id string, status model.UserStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = at
	return nil
}

func (s *memUserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *memUserStore) sorted() []*model.User {
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memUserStore) List(_ context.Context, filter model.UserFilter) iter.Seq2[*model.User, error] {
	return func(yield func(*model.User, error) bool) {
		s.mu.Lock()
		s.listCalls++
		fail := s.failWith
		all := s.sorted()
		s.mu.Unlock()

		if fail != nil {
			yield(nil, fail)
			return
		}

		search := strings.ToLower(filter.Search)
		skipped, emitted := 0, 0
		for _, u := range all {
			if search != "" {
				name := ""
				if u.FullName != nil {
					name = *u.FullName
				}
				hay := strings.ToLower(u.Email + "\x00" + u.Username + "\x00" + name)
				if !strings.Contains(hay, search) {
					continue
				}
			}
			if len(filter.Roles) > 0 && !containsRole(filter.Roles, u.Role) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if filter.Limit > 0 && emitted == filter.Limit {
				return
			}
			emitted++
			if !yield(u, nil) {
				return
			}
		}
	}
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

func (s *memUserStore) Statistics(_ context.Context, newSince time.Time) (model.UserStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return model.UserStatistics{}, s.failWith
	}
	var stats model.UserStatistics
	for _, u := range s.users {
		stats.TotalUsers++
		if u.Status == model.UserStatusActive {
			stats.ActiveUsers++
		}
		if !u.CreatedAt.Before(newSince) {
			stats.NewUsers++
		}
		if u.Role == model.RoleAdmin {
			stats.AdminUsers++
		}
	}
	return stats, nil
}

func (s *memUserStore) RoleDistribution(context.Context) ([]model.RoleCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[model.Role]int{}
	for _, u := range s.users {
		counts[u.Role]++
	}
	var out []model.RoleCount
	for role, n := range counts {
		out = append(out, model.RoleCount{Role: role, Count: n})
	}
	return out, nil
}

func (s *memUserStore) Growth(_ context.Context, since time.Time) ([]model.GrowthPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[time.Time]int{}
	for _, u := range s.users {
		if u.CreatedAt.Before(since) {
			continue
		}
		c := u.CreatedAt.UTC()
		counts[time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)]++
	}
	var out []model.GrowthPoint
	for day, n := range counts {
		out = append(out, model.GrowthPoint{Date: day, Users: n})
	}
	return out, nil
}

func (s *memUserStore) CountWithPermission(_ context.Context, perm model.Permission) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		for _, p := range u.Permissions {
			if p == perm {
				n++
				break
			}
		}
	}
	return n, nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]*model.Session{}}
}

func (s *memSessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

func (s *memSessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *session
	return &c, nil
}

func (s *memSessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memSessionStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *memSessionStore) PurgeExpired(context.Context) (int64, error) {
	return 0, nil
}

func (s *memSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type memActivityStore struct {
	mu      sync.Mutex
	entries []*model.ActivityLog
	fail    bool
}

func (s *memActivityStore) Create(_ context.Context, entry *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("activity store down")
	}
	c := *entry
	s.entries = append(s.entries, &c)
	return nil
}

func (s *memActivityStore) List(_ context.Context, start, end time.Time, filter model.ActivityFilter) iter.Seq2[*model.ActivityLog, error] {
	return func(yield func(*model.ActivityLog, error) bool) {
		s.mu.Lock()
		var matched []*model.ActivityLog
		for _, e := range s.entries {
			if e.Timestamp.Before(start) || e.Timestamp.After(end) {
				continue
			}
			if filter.UserID != "" && e.UserID != filter.UserID {
				continue
			}
			if filter.Action != "" && e.Action != filter.Action {
				continue
			}
			c := *e
			matched = append(matched, &c)
		}
		s.mu.Unlock()

		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].Timestamp.Equal(matched[j].Timestamp) {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		})
		for i, e := range matched {
			if filter.Limit > 0 && i == filter.Limit {
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *memActivityStore) AnonymizeUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.UserID == userID {
			e.UserID = model.AnonymousUserID
			e.IPAddress = nil
			e.UserAgent = nil
			n++
		}
	}
	return n, nil
}

func (s *memActivityStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

func (s *memActivityStore) last() *model.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

type memRoleStore struct {
	catalogue map[model.Role][]model.Permission
}

func (s *memRoleStore) List(context.Context) (map[model.Role][]model.Permission, error) {
	out := make(map[model.Role][]model.Permission, len(s.catalogue))
	for r, p := range s.catalogue {
		out[r] = append([]model.Permission(nil), p...)
	}
	return out, nil
}

func (s *memRoleStore) Replace(_ context.Context, role model.Role, perms []model.Permission) error {
	s.catalogue[role] = append([]model.Permission(nil), perms...)
	return nil
}

type testEnv struct {
	cfg         *config.Config
	clock       *fakeClock
	users       *memUserStore
	sessions    *memSessionStore
	activity    *memActivityStore
	userSvc     *UserService
	sessionSvc  *SessionService
	activitySvc *ActivityService
	admin       Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Security.Tokens.Secret = "0123456789abcdef0123456789abcdef"
	tokens, err := auth.NewTokenService(cfg.Security.Tokens)
	require.NoError(t, err)

	env := &testEnv{
		cfg:      cfg,
		clock:    &fakeClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
		users:    newMemUserStore(),
		sessions: newMemSessionStore(),
		activity: &memActivityStore{},
	}
	log := logger.Nop()

	env.activitySvc = NewActivityService(env.activity, cfg, nil, log)
	env.activitySvc.clock = env.clock

	env.userSvc = NewUserService(env.users, env.sessions, env.activitySvc, plainHasher{}, cfg, nil, log)
	env.userSvc.clock = env.clock

	tokens = tokens.WithTimeFunc(env.clock.Now)
	env.sessionSvc = NewSessionService(env.users, env.sessions, env.activitySvc, plainHasher{}, tokens, cfg, nil, log)
	env.sessionSvc.clock = env.clock

	env.admin = Actor{
		User: &model.User{
			ID:          "admin-1",
			Username:    "root",
			Role:        model.RoleAdmin,
			Status:      model.UserStatusActive,
			Permissions: []model.Permission{model.PermAdminAll},
		},
		Client: model.ClientInfo{IPAddress: "127.0.0.1", RequestID: "req-1"},
	}
	return env
}

func (e *testEnv) createAlice(t *testing.T) *model.UserView {
	t.Helper()
	view, err := e.userSvc.CreateUser(context.Background(), e.admin, model.NewUser{
		Email:    "a@b.com",
		Username: "alice",
		Password: "Abcdef12",
	})
	require.NoError(t, err)
	return view
}

func (e *testEnv) actorFor(t *testing.T, id string) Actor {
	t.Helper()
	u, err := e.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return Actor{User: u}
}
