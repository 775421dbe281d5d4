package httpapi

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/suPer8Hu/shoshchat-widget/internal/account"
	"github.com/suPer8Hu/shoshchat-widget/internal/auth"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/handlers"
	"github.com/suPer8Hu/shoshchat-widget/internal/tenant"
)

type sentMail struct {
	to, subject, body string
}

type outbox struct {
	mu   sync.Mutex
	mail []sentMail
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mail = append(o.mail, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.mail)
}

// lastLink returns the uid and token of the newest mail's link.
func (o *outbox) lastLink(t *testing.T, wantPath string) (string, string) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.mail) == 0 {
		t.Fatalf("no mail sent")
	}
	m := o.mail[len(o.mail)-1]
	i := strings.Index(m.body, "http")
	if i < 0 {
		t.Fatalf("no link in %q", m.body)
	}
	u, err := url.Parse(m.body[i:])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if u.Path != wantPath {
		t.Fatalf("link path = %q, want %q", u.Path, wantPath)
	}
	return u.Query().Get("uid"), u.Query().Get("token")
}

func globex() auth.RegisterRequest {
	return auth.RegisterRequest{
		Username:        "globex-owner",
		Email:           "owner@globex.test",
		Password:        "first-pass",
		PasswordConfirm: "first-pass",
		FirstName:       "Hank",
		CompanyName:     "Globex",
		Industry:        "finance",
		Domain:          "Chat.Globex.test",
		WelcomeMessage:  "Welcome to Globex",
	}
}

func TestRegisterVerifyAndLogin(t *testing.T) {
	box := &outbox{}
	h, srv := newStub(t, handlers.WithMailer(box))
	s := newClientStack(t, h, srv)
	ctx := context.Background()
	accounts := account.New(s.api)

	user, err := s.life.Register(ctx, globex())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "globex-owner" || user.EmailVerified {
		t.Fatalf("unexpected profile %+v", user)
	}
	if s.life.HasSession(ctx) {
		t.Fatalf("register must not log in")
	}
	uid, token := box.lastLink(t, "/verify-email")

	if _, err := s.life.Login(ctx, "globex-owner", "first-pass"); err != nil {
		t.Fatalf("login: %v", err)
	}
	d, err := tenant.New(s.api, s.life).Current(ctx)
	if err != nil {
		t.Fatalf("current tenant: %v", err)
	}
	if d.Name != "Globex" || d.SchemaName != "globex" || d.Industry != "finance" || len(d.Domains) != 1 || d.Domains[0].Domain != "chat.globex.test" {
		t.Fatalf("unexpected tenant %+v", d)
	}

	if err := accounts.ConfirmEmail(ctx, uid, token); err != nil {
		t.Fatalf("confirm email: %v", err)
	}
	me, err := tenant.New(s.api, s.life).Profile(ctx)
	if err != nil || !me.EmailVerified {
		t.Fatalf("expected verified profile, got %+v %v", me, err)
	}
	if err := accounts.ConfirmEmail(ctx, uid, token); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected a used link to be rejected, got %v", err)
	}

	_, err = s.life.Register(ctx, globex())
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, common.ErrValidation) || len(apiErr.FieldErrors()["username"]) == 0 {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	h, srv := newStub(t, handlers.WithMailer(&outbox{}))
	s := newClientStack(t, h, srv)

	req := globex()
	req.Email = "not-an-email"
	req.Industry = "mining"
	req.Password, req.PasswordConfirm = "short", "short"
	_, err := s.life.Register(context.Background(), req)
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	fields := apiErr.FieldErrors()
	for _, f := range []string{"email", "industry", "password", "password_confirm"} {
		if len(fields[f]) == 0 {
			t.Fatalf("expected an error for %s, got %v", f, fields)
		}
	}
}

func TestPasswordResetFlow(t *testing.T) {
	box := &outbox{}
	h, srv := newStub(t, handlers.WithMailer(box))
	s := newClientStack(t, h, srv)
	ctx := context.Background()
	accounts := account.New(s.api)
	s.login(t)
	oldRefresh := s.store.RefreshToken(ctx)

	msg, err := accounts.RequestPasswordReset(ctx, "nobody@acme.test")
	if err != nil || msg == "" || box.count() != 0 {
		t.Fatalf("unknown address: msg=%q err=%v mails=%d", msg, err, box.count())
	}
	again, err := accounts.RequestPasswordReset(ctx, "owner@acme.test")
	if err != nil || again != msg {
		t.Fatalf("expected the same answer for a known address, got %q %v", again, err)
	}
	uid, token := box.lastLink(t, "/reset-password")

	bad := account.PasswordReset{UID: uid, Token: "wrong", NewPassword: "brand-new-pass", ConfirmPassword: "brand-new-pass"}
	if err := accounts.ConfirmPasswordReset(ctx, bad); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected bad token rejection, got %v", err)
	}
	good := account.PasswordReset{UID: uid, Token: token, NewPassword: "brand-new-pass", ConfirmPassword: "brand-new-pass"}
	if err := accounts.ConfirmPasswordReset(ctx, good); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// The old refresh token no longer works.
	if _, err := s.life.Refresh(ctx); !errors.Is(err, common.ErrRefreshFailed) {
		t.Fatalf("expected refresh with %q to fail after reset, got %v", oldRefresh, err)
	}
	if _, err := s.life.Login(ctx, "owner", "secret-pass"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := s.life.Login(ctx, "owner", "brand-new-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
