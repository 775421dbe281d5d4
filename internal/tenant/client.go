// Package tenant exposes the dashboard owner's tenant operations.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/shoshchat-widget/internal/auth"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

var ErrEmptyDomain = errors.New("tenant: domain is required")

// API is the pipeline subset the dashboard needs. *apiclient.Client implements it.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
}

type Sessions interface {
	HasSession(ctx context.Context) bool
}

type Plan struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	MessageQuota int    `json:"message_quota"`
	MonthlyPrice string `json:"monthly_price"`
}

type Domain struct {
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
}

type Details struct {
	ID                   common.FlexID `json:"id"`
	Name                 string        `json:"name"`
	SchemaName           string        `json:"schema_name"`
	Industry             string        `json:"industry"`
	WidgetAccent         string        `json:"widget_accent"`
	WidgetWelcomeMessage string        `json:"widget_welcome_message"`
	WidgetPrimaryColor   string        `json:"widget_primary_color"`
	PaidUntil            *string       `json:"paid_until"`
	OnTrial              bool          `json:"on_trial"`
	Plan                 *Plan         `json:"plan"`
	Domains              []Domain      `json:"domains"`
}

// Settings is a partial update; nil fields are left unchanged.
type Settings struct {
	WidgetAccent         *string `json:"widget_accent,omitempty"`
	WidgetWelcomeMessage *string `json:"widget_welcome_message,omitempty"`
	WidgetPrimaryColor   *string `json:"widget_primary_color,omitempty"`
}

type RecentSession struct {
	UserID            string `json:"user_id"`
	LastInteractionAt string `json:"last_interaction_at"`
}

type Analytics struct {
	TotalSessions  int             `json:"total_sessions"`
	TotalMessages  int             `json:"total_messages"`
	RoleBreakdown  map[string]int  `json:"role_breakdown"`
	RecentSessions []RecentSession `json:"recent_sessions"`
}

type Client struct {
	api      API
	sessions Sessions
}

func New(api API, sessions Sessions) *Client {
	return &Client{api: api, sessions: sessions}
}

// Current returns the owner's tenant, or nil without a session.
func (c *Client) Current(ctx context.Context) (*Details, error) {
	if !c.sessions.HasSession(ctx) {
		return nil, nil
	}
	var d Details
	if err := c.api.Get(ctx, "/tenants/me/", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateSettings patches the widget appearance and returns the stored values.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (*Settings, error) {
	var out Settings
	if err := c.api.Patch(ctx, "/tenants/me/settings/", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDomain registers (or updates) a widget domain. The backend lowercases it.
func (c *Client) AddDomain(ctx context.Context, domain string, primary bool) (*Domain, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	var out Domain
	if err := c.api.Post(ctx, "/tenants/me/domains/", Domain{Domain: domain, IsPrimary: primary}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EmbedCode(ctx context.Context) (string, error) {
	var out struct {
		EmbedCode string `json:"embed_code"`
	}
	if err := c.api.Get(ctx, "/tenants/me/embed/", &out); err != nil {
		return "", err
	}
	return out.EmbedCode, nil
}

func (c *Client) Analytics(ctx context.Context) (*Analytics, error) {
	var out Analytics
	if err := c.api.Get(ctx, "/chat/analytics/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the owner's profile from the backend.
func (c *Client) Profile(ctx context.Context) (*auth.UserProfile, error) {
	var out auth.UserProfile
	if err := c.api.Get(ctx, "/auth/me/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StringPtr is a helper for building Settings.
func StringPtr(s string) *string { return &s }
