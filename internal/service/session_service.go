package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/ids"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/repository"
)

// LoginResult is a newly issued session and the token that carries it
type LoginResult struct {
	Session *model.Session `json:"session"`
	Token   string         `json:"token"`
	User    model.UserView `json:"user"`
}

// SessionService issues, validates and ends sessions
type SessionService struct {
	users    UserStore
	sessions SessionStore
	activity *ActivityService
	hasher   PasswordHasher
	tokens   *auth.TokenService
	cfg      *config.Config
	clock    Clock
	newID    func() string
	metrics  *metrics.Metrics
	log      *logger.Logger

	// dummyHash is verified against when the username is unknown so that
	// every failed login costs one hash verification
	dummyHash string
}

// dummyPassword only seeds dummyHash; no account ever holds it
const dummyPassword = "voc-dummy-credential-7Qx"

// NewSessionService creates a new SessionService
func NewSessionService(
	users UserStore,
	sessions SessionStore,
	activity *ActivityService,
	hasher PasswordHasher,
	tokens *auth.TokenService,
	cfg *config.Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *SessionService {
	s := &SessionService{
		users:    users,
		sessions: sessions,
		activity: activity,
		hasher:   hasher,
		tokens:   tokens,
		cfg:      cfg,
		clock:    systemClock{},
		newID:    ids.NewSecret,
		metrics:  m,
		log:      log.WithComponent("session_service"),
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to prepare dummy credential")
	}
	s.dummyHash = dummy
	return s
}

// Login checks the credentials of an active user and opens a session.
// Unknown users, inactive users and wrong passwords all fail with the
// same authentication error.
func (s *SessionService) Login(ctx context.Context, username, password string, client model.ClientInfo) (*LoginResult, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummyHash)
			s.metrics.LoginAttempt(metrics.LoginInvalid)
			return nil, errInvalidCredentials
		}
		s.metrics.LoginAttempt(metrics.LoginUnavailable)
		return nil, translate("get user", err)
	}

	if !user.IsActive() {
		// the outcome is ignored, only the cost matters
		_, _ = s.hasher.Verify(password, user.PasswordHash)
		s.loginFailed(ctx, user, "inactive", client)
		s.metrics.LoginAttempt(metrics.LoginInactive)
		return nil, errInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to verify password")
	}
	if err != nil || !ok {
		s.loginFailed(ctx, user, "invalid_password", client)
		s.metrics.LoginAttempt(metrics.LoginInvalid)
		return nil, errInvalidCredentials
	}

	now := s.clock.Now()
	session, err := model.NewSession(s.newID(), user.ID, now, s.cfg.Sessions.TTL, client)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(session, user.Username)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.metrics.LoginAttempt(metrics.LoginUnavailable)
		return nil, translate("create session", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		if derr := s.sessions.Delete(ctx, session.ID); derr != nil {
			s.log.Warn().Err(derr).Str("session_id", session.ID).Msg("failed to roll back session")
		}
		s.metrics.LoginAttempt(metrics.LoginUnavailable)
		return nil, translate("update last login", err)
	}
	user.LastLogin = &now

	s.activity.RecordActivity(ctx, user.ID, model.AuditActionLogin, map[string]interface{}{
		"session_id": session.ID,
	}, client)

	s.metrics.LoginAttempt(metrics.LoginSuccess)
	s.log.Info().Str("user_id", user.ID).Str("session_id", session.ID).Msg("user logged in")

	return &LoginResult{Session: session, Token: token, User: user.View()}, nil
}

func (s *SessionService) loginFailed(ctx context.Context, user *model.User, reason string, client model.ClientInfo) {
	s.activity.RecordActivity(ctx, user.ID, model.AuditActionLoginFailed, map[string]interface{}{
		"reason": reason,
	}, client)
	s.log.Warn().Str("user_id", user.ID).Str("reason", reason).Msg("login failed")
}

// Logout ends a session. Unknown or already ended sessions are not an error.
func (s *SessionService) Logout(ctx context.Context, sessionID string, client model.ClientInfo) error {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return translate("get session", err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return translate("delete session", err)
	}

	s.activity.RecordActivity(ctx, session.UserID, model.AuditActionLogout, map[string]interface{}{
		"session_id": session.ID,
	}, client)

	s.log.Info().Str("user_id", session.UserID).Str("session_id", session.ID).Msg("user logged out")
	return nil
}

// ValidateSession returns the owner of a live session. It fails with an
// authentication error when the session is missing or expired or its
// owner is no longer active.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID string) (*model.UserView, error) {
	user, _, err := s.validate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := user.View()
	return &view, nil
}

// Authenticate resolves a session token to its session and owner. The
// returned user carries permissions for authorization but no credential.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*model.User, *model.Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, errInvalidSession
	}
	user, session, err := s.validate(ctx, claims.SessionID())
	if err != nil {
		return nil, nil, err
	}
	return user.WithoutCredential(), session, nil
}

func (s *SessionService) validate(ctx context.Context, sessionID string) (*model.User, *model.Session, error) {
	if sessionID == "" {
		return nil, nil, errInvalidSession
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, errInvalidSession
		}
		return nil, nil, translate("get session", err)
	}

	if session.IsExpired(s.clock.Now()) {
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to drop expired session")
		}
		return nil, nil, errInvalidSession
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, errInvalidSession
		}
		return nil, nil, translate("get user", err)
	}
	if !user.IsActive() {
		return nil, nil, errInvalidSession
	}
	return user, session, nil
}

// InvalidateUserSessions ends every session of userID. Users may end their
// own sessions; ending someone else's needs manage:users.
func (s *SessionService) InvalidateUserSessions(ctx context.Context, actor Actor, userID string) (int64, error) {
	if actor.User == nil {
		return 0, errInvalidSession
	}
	if actor.ID() != userID {
		if err := auth.Authorize(actor.User, model.PermManageUsers); err != nil {
			s.metrics.AuthorizationDenied(string(model.PermManageUsers))
			return 0, err
		}
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, translate("revoke sessions", err)
	}

	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionSessionsRevoked, map[string]interface{}{
		"target_user_id": userID,
		"count":          n,
	}, actor.Client)
	return n, nil
}

// PurgeExpired reclaims storage held by expired sessions
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		return n, translate("purge sessions", err)
	}
	s.metrics.SessionsPurged(n)
	if n > 0 {
		s.log.Info().Int64("pruned", n).Msg("expired sessions purged")
	}
	return n, nil
}

// RunCleanup calls PurgeExpired every interval until ctx is done
func (s *SessionService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil {
				s.log.Error().Err(err).Msg("session cleanup failed")
			}
		}
	}
}
