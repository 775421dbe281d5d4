// Package account covers the signed-out owner flows: password reset and email
// verification. The backend delivers uid/token links by email; these calls
// start a flow or redeem a link.
package account

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

var (
	ErrEmptyEmail = errors.New("account: email is required")
	// ErrIncompleteLink is returned when a uid or token from an emailed link is
	// missing.
	ErrIncompleteLink = errors.New("account: link is missing its uid or token")
	ErrEmptyPassword  = errors.New("account: new password is required")
)

// API is the pipeline subset these flows need. *apiclient.Client implements it.
type API interface {
	Post(ctx context.Context, path string, body, out any) error
}

// PasswordReset redeems a reset link.
type PasswordReset struct {
	UID             string
	Token           string
	NewPassword     string
	ConfirmPassword string
}

type Client struct {
	api API
}

func New(api API) *Client {
	return &Client{api: api}
}

type emailReq struct {
	Email string `json:"email"`
}

type linkReq struct {
	UID         string `json:"uid"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password,omitempty"`
}

type detailResp struct {
	Detail string `json:"detail"`
}

// RequestPasswordReset asks for a reset link. The backend answers the same way
// whether or not the address is known; its message is returned.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return c.requestLink(ctx, "/auth/password/reset/", email)
}

// ConfirmPasswordReset sets a new password from a reset link.
func (c *Client) ConfirmPasswordReset(ctx context.Context, r PasswordReset) error {
	uid, token := strings.TrimSpace(r.UID), strings.TrimSpace(r.Token)
	if uid == "" || token == "" {
		return ErrIncompleteLink
	}
	if r.NewPassword == "" {
		return ErrEmptyPassword
	}
	if r.NewPassword != r.ConfirmPassword {
		return common.ErrPasswordMismatch
	}
	return c.api.Post(ctx, "/auth/password/reset/confirm/", linkReq{UID: uid, Token: token, NewPassword: r.NewPassword}, nil)
}

// RequestEmailVerification asks for a fresh verification link.
func (c *Client) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	return c.requestLink(ctx, "/auth/email/verify/", email)
}

// ConfirmEmail redeems a verification link.
func (c *Client) ConfirmEmail(ctx context.Context, uid, token string) error {
	uid, token = strings.TrimSpace(uid), strings.TrimSpace(token)
	if uid == "" || token == "" {
		return ErrIncompleteLink
	}
	return c.api.Post(ctx, "/auth/email/verify/confirm/", linkReq{UID: uid, Token: token}, nil)
}

func (c *Client) requestLink(ctx context.Context, path, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	var out detailResp
	if err := c.api.Post(ctx, path, emailReq{Email: email}, &out); err != nil {
		return "", err
	}
	return out.Detail, nil
}
