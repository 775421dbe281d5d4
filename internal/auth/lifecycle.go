package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
	"golang.org/x/sync/singleflight"
)

const refreshFlight = "refresh"

// Lifecycle logs in, refreshes and logs out. It is the only writer of its
// SessionStore, and Refresh is single-flight: callers that arrive while a refresh
// is outstanding wait for that one instead of starting another.
type Lifecycle struct {
	baseURL string
	client  *http.Client
	store   *SessionStore
	logger  *slog.Logger

	flight     singleflight.Group
	refreshing atomic.Int32
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Lifecycle) {
		if c != nil {
			l.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLifecycle(baseURL string, store *SessionStore, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    *UserProfile `json:"user"`
}

type refreshReq struct {
	Refresh string `json:"refresh"`
}

type refreshResp struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Login exchanges credentials for a Session and persists it.
// A rejected login returns common.ErrInvalidCredentials and persists nothing.
func (l *Lifecycle) Login(ctx context.Context, username, password string) (*Session, error) {
	var resp loginResp
	if err := l.postJSON(ctx, "/auth/login/", loginReq{Username: username, Password: password}, &resp); err != nil {
		if errors.Is(err, common.ErrNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidCredentials, err)
	}
	if resp.Access == "" {
		return nil, fmt.Errorf("%w: empty access token", common.ErrInvalidCredentials)
	}

	sess := Session{AccessToken: resp.Access, RefreshToken: resp.Refresh, User: resp.User}
	if err := l.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	l.logger.Info("logged in", "username", username, "access_expires_at", expiryAttr(resp.Access))
	return &sess, nil
}

// RegisterRequest is the onboarding form: the owner account and its first
// tenant. Plan, Domain and the widget fields are optional.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	CompanyName     string `json:"company_name"`
	Industry        string `json:"industry"`
	Plan            string `json:"plan,omitempty"`
	Domain          string `json:"domain,omitempty"`
	Accent          string `json:"accent,omitempty"`
	WelcomeMessage  string `json:"welcome_message,omitempty"`
	PrimaryColor    string `json:"primary_color,omitempty"`
}

// Register creates an owner account and tenant. It does not log in, and it
// sends no bearer. A password that differs from its confirmation fails with
// common.ErrPasswordMismatch before any request; server-side rejections match
// common.ErrValidation.
func (l *Lifecycle) Register(ctx context.Context, req RegisterRequest) (*UserProfile, error) {
	if req.Password != req.PasswordConfirm {
		return nil, common.ErrPasswordMismatch
	}
	var user UserProfile
	if err := l.postJSON(ctx, "/auth/register/onboard/", req, &user); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	l.logger.Info("registered", "username", user.Username, "company", req.CompanyName)
	return &user, nil
}

// Refresh rotates the access token. It returns ("", nil) without any network
// call when no refresh token is stored. On failure the Session is cleared and
// the error wraps common.ErrRefreshFailed.
//
// Concurrent callers share one outstanding refresh. The refresh itself is not
// cancelled by any single caller; a caller whose ctx ends stops waiting.
func (l *Lifecycle) Refresh(ctx context.Context) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := l.flight.DoChan(refreshFlight, func() (any, error) {
		l.refreshing.Add(1)
		defer l.refreshing.Add(-1)
		return l.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		token, _ := res.Val.(string)
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Lifecycle) refresh(ctx context.Context) (string, error) {
	refresh := l.store.RefreshToken(ctx)
	if refresh == "" {
		return "", nil
	}

	var resp refreshResp
	err := l.postJSON(ctx, "/auth/refresh/", refreshReq{Refresh: refresh}, &resp)
	if err == nil && resp.Access == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		l.clear(ctx)
		l.logger.Warn("session refresh failed", "error", err)
		return "", fmt.Errorf("%w: %w", common.ErrRefreshFailed, err)
	}

	next := Session{
		AccessToken:  resp.Access,
		RefreshToken: refresh,
		User:         l.store.User(ctx),
	}
	if resp.Refresh != "" {
		next.RefreshToken = resp.Refresh
	}
	if err := l.store.Set(ctx, next); err != nil {
		l.logger.Warn("unable to persist refreshed session", "error", err)
	}
	l.logger.Info("session refreshed", "rotated", resp.Refresh != "", "access_expires_at", expiryAttr(resp.Access))
	return resp.Access, nil
}

// Logout clears the Session locally. The server is not contacted.
func (l *Lifecycle) Logout(ctx context.Context) {
	l.clear(ctx)
	l.logger.Info("logged out")
}

// Invalidate drops a Session the backend no longer accepts.
func (l *Lifecycle) Invalidate(ctx context.Context) {
	l.clear(ctx)
	l.logger.Warn("session invalidated")
}

// Refreshing reports whether a refresh is outstanding right now.
func (l *Lifecycle) Refreshing() bool {
	return l.refreshing.Load() > 0
}

func (l *Lifecycle) Session(ctx context.Context) *Session { return l.store.Get(ctx) }

func (l *Lifecycle) AccessToken(ctx context.Context) string { return l.store.AccessToken(ctx) }

func (l *Lifecycle) HasSession(ctx context.Context) bool { return l.store.AccessToken(ctx) != "" }

func (l *Lifecycle) User(ctx context.Context) *UserProfile { return l.store.User(ctx) }

// AccessExpiry reads the exp claim of the stored access token without verifying
// it. ok is false when there is no token or it is not a JWT with an expiry.
func (l *Lifecycle) AccessExpiry(ctx context.Context) (time.Time, bool) {
	return tokenExpiry(l.store.AccessToken(ctx))
}

func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func expiryAttr(token string) string {
	exp, ok := tokenExpiry(token)
	if !ok {
		return "unknown"
	}
	return exp.UTC().Format(time.RFC3339)
}

func (l *Lifecycle) clear(ctx context.Context) {
	if err := l.store.Clear(ctx); err != nil {
		l.logger.Warn("unable to clear session", "error", err)
	}
}

// postJSON issues an unauthenticated JSON POST.
func (l *Lifecycle) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return &common.APIError{
			Method: http.MethodPost,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
