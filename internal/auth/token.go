package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/model"
)

// ErrInvalidToken is returned for tokens that fail signature or claim checks
var ErrInvalidToken = errors.New("invalid session token")

// TokenService wraps session identifiers in signed bearer tokens. The token
// only transports the session id; whether the session is still valid is
// decided server-side on every request.
type TokenService struct {
	cfg    config.TokenConfig
	secret []byte
	now    func() time.Time
}

// SessionClaims represents the claims in a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// SessionID returns the session identifier carried by the token
func (c *SessionClaims) SessionID() string {
	return c.ID
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg config.TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes")
	}
	return &TokenService{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// WithTimeFunc returns a copy of the service that checks token expiry
// against now instead of the wall clock
func (s *TokenService) WithTimeFunc(now func() time.Time) *TokenService {
	c := *s
	c.now = now
	return &c
}

// Issue signs a token for the session
func (s *TokenService) Issue(session *model.Session, username string) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   session.UserID,
			ID:        session.ID,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Username: username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token signature, issuer, and expiry and returns its claims
func (s *TokenService) Parse(tokenString string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
