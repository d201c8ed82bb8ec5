package ids

import (
	"crypto/rand"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for
// append-only records such as activity log entries.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a sortable identifier stamped with t
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewSecret returns a sortable identifier whose random part comes from
// crypto/rand, so it cannot be predicted from earlier ids.
func NewSecret() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewUUID returns a random UUID for user identifiers and request ids
func NewUUID() string {
	return uuid.NewString()
}
