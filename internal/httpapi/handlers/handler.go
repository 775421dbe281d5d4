// Package handlers implements the stub backend's endpoints over in-memory state.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/middleware"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrTenantExists = errors.New("tenant already exists")
	ErrUnknownOwner = errors.New("owner not found")
)

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes each email to the log instead of sending it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email", "to", to, "subject", subject, "body", body)
	return nil
}

// Replier produces the assistant's answer to a visitor message.
type Replier interface {
	Reply(ctx context.Context, message, userID string) (string, error)
}

type ReplierFunc func(ctx context.Context, message, userID string) (string, error)

func (f ReplierFunc) Reply(ctx context.Context, message, userID string) (string, error) {
	return f(ctx, message, userID)
}

// EchoReplier answers with the visitor's own message.
var EchoReplier = ReplierFunc(func(_ context.Context, message, _ string) (string, error) {
	return "You said: " + message, nil
})

type User struct {
	ID           uint64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte

	EmailVerified bool
}

type Domain struct {
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
}

type Tenant struct {
	ID                   uint64
	OwnerID              uint64
	Name                 string
	SchemaName           string
	Industry             string
	WidgetAccent         string
	WidgetWelcomeMessage string
	WidgetPrimaryColor   string
	OnTrial              bool
	Domains              []Domain
}

type storedMessage struct {
	ID           uint64    `json:"id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	ResponseText string    `json:"response_text"`
	CreatedAt    time.Time `json:"created_at"`
}

type chatSession struct {
	ID                uint64          `json:"id"`
	UserID            string          `json:"user_id"`
	StartedAt         time.Time       `json:"started_at"`
	LastInteractionAt time.Time       `json:"last_interaction_at"`
	Messages          []storedMessage `json:"messages"`
}

type Config struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	// LinkTTL bounds password reset and email verification links.
	LinkTTL time.Duration
}

// Handler owns the stub's state. The stub serves a single tenant context, so
// chat sessions are shared by every owner.
type Handler struct {
	cfg     Config
	replier Replier
	mailer  Mailer
	now     func() time.Time

	mu       sync.Mutex
	nextID   uint64
	users    map[string]*User
	tenants  map[uint64]*Tenant // by owner id
	sessions []*chatSession
	refresh  map[string]uint64 // refresh token -> user id
	links    map[string]accountLink

	refreshCalls atomic.Int64
	chatCalls    atomic.Int64
}

type Option func(*Handler)

func WithReplier(r Replier) Option {
	return func(h *Handler) {
		if r != nil {
			h.replier = r
		}
	}
}

func WithMailer(m Mailer) Option {
	return func(h *Handler) {
		if m != nil {
			h.mailer = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(cfg Config, opts ...Option) *Handler {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 5 * time.Minute
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 72 * time.Hour
	}
	h := &Handler{
		cfg:     cfg,
		replier: EchoReplier,
		mailer:  LogMailer{},
		now:     time.Now,
		users:   make(map[string]*User),
		tenants: make(map[uint64]*Tenant),
		refresh: make(map[string]uint64),
		links:   make(map[string]accountLink),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) JWTSecret() string { return h.cfg.JWTSecret }

// RefreshCalls counts requests to the refresh endpoint.
func (h *Handler) RefreshCalls() int64 { return h.refreshCalls.Load() }

// ChatCalls counts requests to the chat endpoint.
func (h *Handler) ChatCalls() int64 { return h.chatCalls.Load() }

func (h *Handler) id() uint64 {
	h.nextID++
	return h.nextID
}

// AddUser registers a verified user with a bcrypt-hashed password.
func (h *Handler) AddUser(username, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addUserLocked(&User{Username: username, Email: email, PasswordHash: hash, EmailVerified: true})
}

func (h *Handler) addUserLocked(u *User) (*User, error) {
	if _, ok := h.users[u.Username]; ok {
		return nil, ErrUserExists
	}
	u.ID = h.id()
	h.users[u.Username] = u
	return u, nil
}

// AddTenant gives the owner a tenant with default widget settings.
func (h *Handler) AddTenant(ownerUsername, name, schema string) (*Tenant, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.users[ownerUsername]
	if !ok {
		return nil, ErrUnknownOwner
	}
	return h.addTenantLocked(u, name, schema)
}

func (h *Handler) addTenantLocked(u *User, name, schema string) (*Tenant, error) {
	for _, existing := range h.tenants {
		if existing.SchemaName == schema {
			return nil, ErrTenantExists
		}
	}
	t := &Tenant{
		ID:                   h.id(),
		OwnerID:              u.ID,
		Name:                 name,
		SchemaName:           schema,
		Industry:             "retail",
		WidgetAccent:         "#6366f1",
		WidgetWelcomeMessage: "Hi! How can we help today?",
		WidgetPrimaryColor:   "#111827",
		OnTrial:              true,
	}
	h.tenants[u.ID] = t
	return t, nil
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (h *Handler) RevokeRefreshTokens() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refresh = make(map[string]uint64)
}

func (h *Handler) userByID(id uint64) *User {
	for _, u := range h.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func userJSON(u *User) gin.H {
	return gin.H{
		"id":             u.ID,
		"username":       u.Username,
		"email":          u.Email,
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"email_verified": u.EmailVerified,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
