// Package auth owns the widget's login session: the persisted tokens and the
// login/refresh/logout lifecycle.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
	"github.com/suPer8Hu/shoshchat-widget/internal/store/kv"
)

// Storage keys, stable across restarts.
const (
	AccessKey  = "shoshchat.token"
	RefreshKey = "shoshchat.refresh"
	UserKey    = "shoshchat.user"
)

// UserProfile is the identity attached to a Session at login or refresh time.
type UserProfile struct {
	ID        common.FlexID `json:"id"`
	Username  string        `json:"username"`
	Email     string        `json:"email,omitempty"`
	FirstName string        `json:"first_name,omitempty"`
	LastName  string        `json:"last_name,omitempty"`

	EmailVerified bool `json:"email_verified,omitempty"`
}

// Session is the live credential pair plus the cached profile.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *UserProfile
}

// SessionStore persists a Session in a kv.Store. Reads never fail: unreadable or
// corrupt entries are logged and reported as absent.
type SessionStore struct {
	kv     kv.Store
	logger *slog.Logger
}

func NewSessionStore(store kv.Store, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{kv: store, logger: logger}
}

// Get returns the stored Session, or nil when no access token is stored.
func (s *SessionStore) Get(ctx context.Context) *Session {
	access := s.read(ctx, AccessKey)
	if access == "" {
		return nil
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: s.read(ctx, RefreshKey),
		User:         s.User(ctx),
	}
}

// AccessToken returns the stored access token or "".
func (s *SessionStore) AccessToken(ctx context.Context) string {
	return s.read(ctx, AccessKey)
}

// RefreshToken returns the stored refresh token or "".
func (s *SessionStore) RefreshToken(ctx context.Context) string {
	return s.read(ctx, RefreshKey)
}

// User returns the cached profile, or nil if absent or unparsable.
func (s *SessionStore) User(ctx context.Context) *UserProfile {
	raw := s.read(ctx, UserKey)
	if raw == "" {
		return nil
	}
	var u UserProfile
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.logger.Warn("unable to parse stored user", "error", err)
		return nil
	}
	return &u
}

// Set stores the tokens. The user entry is only written when sess.User is set,
// so a refresh that carries no profile keeps the cached one.
func (s *SessionStore) Set(ctx context.Context, sess Session) error {
	if sess.User != nil {
		b, err := json.Marshal(sess.User)
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, UserKey, string(b)); err != nil {
			return err
		}
	}
	if err := s.kv.Set(ctx, AccessKey, sess.AccessToken); err != nil {
		return err
	}
	return s.kv.Set(ctx, RefreshKey, sess.RefreshToken)
}

// Clear removes every session key.
func (s *SessionStore) Clear(ctx context.Context) error {
	return errors.Join(
		s.kv.Delete(ctx, AccessKey),
		s.kv.Delete(ctx, RefreshKey),
		s.kv.Delete(ctx, UserKey),
	)
}

func (s *SessionStore) read(ctx context.Context, key string) string {
	v, found, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("unable to read session entry", "key", key, "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return v
}
