package service

import (
	"context"
	"iter"
	"time"

	"github.com/vocanalytics/voc/internal/model"
)

// UserStore is the persistence the directory and session services need
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status model.UserStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter model.UserFilter) iter.Seq2[*model.User, error]
	Statistics(ctx context.Context, newSince time.Time) (model.UserStatistics, error)
	RoleDistribution(ctx context.Context) ([]model.RoleCount, error)
	Growth(ctx context.Context, since time.Time) ([]model.GrowthPoint, error)
	CountWithPermission(ctx context.Context, perm model.Permission) (int, error)
}

// SessionStore keeps live sessions
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// ActivityStore is the append-only audit trail
type ActivityStore interface {
	Create(ctx context.Context, entry *model.ActivityLog) error
	List(ctx context.Context, start, end time.Time, filter model.ActivityFilter) iter.Seq2[*model.ActivityLog, error]
	AnonymizeUser(ctx context.Context, userID string) (int64, error)
}

// RoleStore persists the role catalogue
type RoleStore interface {
	List(ctx context.Context) (map[model.Role][]model.Permission, error)
	Replace(ctx context.Context, role model.Role, perms []model.Permission) error
}

// PasswordHasher turns plaintext passwords into verifiable credentials
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, credential string) (bool, error)
}

// Clock supplies timestamps
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Actor is the authenticated caller of a service operation together with
// the metadata of the request it arrived on
type Actor struct {
	User   *model.User
	Client model.ClientInfo
}

// ID returns the acting user's id, or "" for an anonymous actor
func (a Actor) ID() string {
	if a.User == nil {
		return ""
	}
	return a.User.ID
}
