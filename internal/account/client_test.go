package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

type fakeAPI struct {
	paths  []string
	bodies []string
	reply  string
	fail   error
}

func (f *fakeAPI) Post(_ context.Context, path string, body, out any) error {
	b, _ := json.Marshal(body)
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, string(b))
	if f.fail != nil {
		return f.fail
	}
	if out != nil && f.reply != "" {
		return json.Unmarshal([]byte(f.reply), out)
	}
	return nil
}

func TestRequestPasswordReset(t *testing.T) {
	api := &fakeAPI{reply: `{"detail":"If an account exists for that email, a reset link has been sent."}`}
	c := New(api)

	msg, err := c.RequestPasswordReset(context.Background(), "  owner@acme.test ")
	if err != nil || msg == "" {
		t.Fatalf("request reset: %q %v", msg, err)
	}
	if api.paths[0] != "/auth/password/reset/" || api.bodies[0] != `{"email":"owner@acme.test"}` {
		t.Fatalf("unexpected call %v %v", api.paths, api.bodies)
	}

	if _, err := c.RequestPasswordReset(context.Background(), " "); !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected ErrEmptyEmail, got %v", err)
	}
	if len(api.paths) != 1 {
		t.Fatalf("expected no call for a blank email")
	}
}

func TestConfirmPasswordReset(t *testing.T) {
	api := &fakeAPI{}
	c := New(api)
	ctx := context.Background()

	cases := []struct {
		in   PasswordReset
		want error
	}{
		{PasswordReset{Token: "t", NewPassword: "p", ConfirmPassword: "p"}, ErrIncompleteLink},
		{PasswordReset{UID: "u", Token: "t"}, ErrEmptyPassword},
		{PasswordReset{UID: "u", Token: "t", NewPassword: "p1", ConfirmPassword: "p2"}, common.ErrPasswordMismatch},
	}
	for _, tc := range cases {
		if err := c.ConfirmPasswordReset(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.in, tc.want, err)
		}
	}
	if len(api.paths) != 0 {
		t.Fatalf("expected local checks to avoid any call, got %v", api.paths)
	}

	if err := c.ConfirmPasswordReset(ctx, PasswordReset{UID: "MQ", Token: "tok", NewPassword: "new-pass-1", ConfirmPassword: "new-pass-1"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if api.paths[0] != "/auth/password/reset/confirm/" || api.bodies[0] != `{"uid":"MQ","token":"tok","new_password":"new-pass-1"}` {
		t.Fatalf("unexpected call %v %v", api.paths, api.bodies)
	}
}

func TestConfirmEmail(t *testing.T) {
	api := &fakeAPI{}
	c := New(api)
	ctx := context.Background()

	if err := c.ConfirmEmail(ctx, "MQ", ""); !errors.Is(err, ErrIncompleteLink) {
		t.Fatalf("expected ErrIncompleteLink, got %v", err)
	}
	if err := c.ConfirmEmail(ctx, "MQ", "tok"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if api.paths[0] != "/auth/email/verify/confirm/" || api.bodies[0] != `{"uid":"MQ","token":"tok"}` {
		t.Fatalf("unexpected call %v %v", api.paths, api.bodies)
	}

	api.fail = &common.APIError{Method: http.MethodPost, Path: "/auth/email/verify/confirm/", Status: http.StatusBadRequest, Body: `{"token":["Invalid or expired token."]}`}
	if err := c.ConfirmEmail(ctx, "MQ", "tok"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRequestEmailVerification(t *testing.T) {
	api := &fakeAPI{reply: `{"detail":"sent"}`}
	c := New(api)
	msg, err := c.RequestEmailVerification(context.Background(), "owner@acme.test")
	if err != nil || msg != "sent" || api.paths[0] != "/auth/email/verify/" {
		t.Fatalf("request verification: %q %v %v", msg, err, api.paths)
	}
}
