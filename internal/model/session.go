package model

import "time"

// Session represents an authenticated login
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
}

// IsExpired reports whether the session has reached its expiry at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ClientInfo carries optional metadata about the calling client
type ClientInfo struct {
	IPAddress string
	UserAgent string
	RequestID string
}

func (c ClientInfo) ipPtr() *string {
	if c.IPAddress == "" {
		return nil
	}
	ip := c.IPAddress
	return &ip
}

func (c ClientInfo) uaPtr() *string {
	if c.UserAgent == "" {
		return nil
	}
	ua := c.UserAgent
	return &ua
}

// NewSession builds a session for userID that lives for ttl from now.
// ttl must be positive so that expiry is strictly after creation.
func NewSession(id, userID string, now time.Time, ttl time.Duration, client ClientInfo) (*Session, error) {
	if ttl <= 0 {
		return nil, NewValidationError("ttl", "session.ttl", "session ttl must be positive")
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IPAddress: client.ipPtr(),
		UserAgent: client.uaPtr(),
	}, nil
}
