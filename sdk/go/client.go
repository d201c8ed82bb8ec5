// Package voc is a Go client for the VOC analytics user and session API.
package voc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds the configuration for the client.
type Config struct {
	// BaseURL is the root URL of the API server.
	// Examples: "https://voc.example.com" or "https://voc.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// CookieName is the session cookie set by the server on login.
	// Default: "voc_session"
	CookieName string

	// CacheTTL controls how long resolved tokens are cached in memory.
	// Set to a negative value to disable caching.
	// Default: 30 seconds
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CookieName == "" {
		c.CookieName = "voc_session"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client calls the API and provides net/http middleware for protecting
// routes of services that sit behind it.
type Client struct {
	cfg   Config
	cache *tokenCache
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:   cfg,
		cache: newTokenCache(),
	}
}

// Login opens a session with username and password.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Username: username, Password: password}, "", &resp)
	if err != nil {
		return nil, err
	}
	if c.cfg.CacheTTL > 0 {
		user := resp.User
		c.cache.set(resp.Token, &user, c.cfg.CacheTTL)
	}
	return &resp, nil
}

// Register creates an account through self-registration.
func (c *Client) Register(ctx context.Context, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout ends the session carried by token.
func (c *Client) Logout(ctx context.Context, token string) error {
	c.cache.delete(token)
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil)
}

// LogoutAll ends every session of the token's user.
func (c *Client) LogoutAll(ctx context.Context, token string) (int64, error) {
	var resp struct {
		Revoked int64 `json:"revoked"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/logout/all", nil, token, &resp); err != nil {
		return 0, err
	}
	c.cache.clear()
	return resp.Revoked, nil
}

// Me resolves token to its user. Results are cached for CacheTTL, so a
// revoked session may still resolve until its cache entry expires.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	if c.cfg.CacheTTL > 0 {
		if user, ok := c.cache.get(token); ok {
			return user, nil
		}
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, &user); err != nil {
		if apiErr, ok := IsAPIError(err); ok && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	if c.cfg.CacheTTL > 0 {
		c.cache.set(token, &user, c.cfg.CacheTTL)
	}
	return &user, nil
}

// InvalidateToken drops token from the cache.
func (c *Client) InvalidateToken(token string) {
	c.cache.delete(token)
}

// ListUsers returns one page of the user directory.
func (c *Client) ListUsers(ctx context.Context, token string, opts ListUsersOptions) (*UserList, error) {
	q := url.Values{}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	for _, role := range opts.Roles {
		q.Add("role", role)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list UserList
	if err := c.do(ctx, http.MethodGet, path, nil, token, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetUser fetches a single user by id.
func (c *Client) GetUser(ctx context.Context, token, id string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a user. The token's user needs manage:users.
func (c *Client) CreateUser(ctx context.Context, token string, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/users", req, token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, token string, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("voc: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("voc: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("voc: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("voc: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("voc: failed to parse response: %w", err)
		}
	}
	return nil
}

// tokenCache provides in-memory caching for resolved tokens.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	user      *User
	expiresAt time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]*cacheEntry)}
}

func (tc *tokenCache) get(token string) (*User, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	entry, ok := tc.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.user, true
}

func (tc *tokenCache) set(token string, user *User, ttl time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()
	for k, v := range tc.entries {
		if now.After(v.expiresAt) {
			delete(tc.entries, k)
		}
	}
	tc.entries[token] = &cacheEntry{
		user:      user,
		expiresAt: now.Add(ttl),
	}
}

func (tc *tokenCache) delete(token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.entries, token)
}

func (tc *tokenCache) clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.entries = make(map[string]*cacheEntry)
}
