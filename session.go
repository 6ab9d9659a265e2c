package solsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Session holds the bearer credential and the authenticated user.
type Session struct {
	mu    sync.RWMutex
	token string
	user  *User
}

// Token returns the bearer credential, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the authenticated user, or nil.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAdmin reports whether the authenticated user is an administrator.
func (s *Session) IsAdmin() bool {
	u := s.User()
	return u != nil && u.IsAdmin
}

func (s *Session) set(token string, user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
}

func (s *Session) setUser(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

func (s *Session) clear() {
	s.set("", nil)
}

// SetToken replaces the bearer credential, e.g. one restored from disk.
func (c *Client) SetToken(token string) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	c.session.token = token
}

type loginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Login exchanges credentials for a bearer token and stores both in the session.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/login", nil, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req, "login", false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrInvalidLogin
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.Token == "" {
		return nil, ErrInvalidLogin
	}
	c.session.set(lr.Token, lr.User)
	c.logger.Info("logged in")
	return c.session.User(), nil
}

// Logout revokes the token on the backend and clears the session. It does
// nothing without a token.
func (c *Client) Logout(ctx context.Context) error {
	if c.session.Token() == "" {
		return nil
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/logout", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req, "logout", true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.session.clear()
	return nil
}

// Me refreshes the authenticated user from the backend.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, "/me", "me", "failed to load user", &u); err != nil {
		return nil, err
	}
	c.session.setUser(&u)
	return c.session.User(), nil
}

var separatorRun = regexp.MustCompile(`[_\-.]+`)

// DisplayName derives a friendly name: the user's name when set, otherwise
// the e-mail local part split on "_", "-" and "." with each word capitalized
// ("joao.silva@x" -> "Joao Silva").
func DisplayName(u *User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	email := strings.TrimSpace(u.Email)
	local, _, _ := strings.Cut(email, "@")
	words := strings.Fields(separatorRun.ReplaceAllString(local, " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
