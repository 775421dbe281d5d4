package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

type call struct {
	method string
	path   string
	body   string
}

// fakeAPI answers with canned JSON per path.
type fakeAPI struct {
	calls     []call
	responses map[string]string
	fail      error
}

func (f *fakeAPI) do(method, path string, body, out any) error {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	f.calls = append(f.calls, call{method: method, path: path, body: string(b)})
	if f.fail != nil {
		return f.fail
	}
	if raw, ok := f.responses[path]; ok && out != nil {
		return json.Unmarshal([]byte(raw), out)
	}
	return nil
}

func (f *fakeAPI) Get(_ context.Context, path string, out any) error {
	return f.do(http.MethodGet, path, nil, out)
}

func (f *fakeAPI) Post(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPost, path, body, out)
}

func (f *fakeAPI) Patch(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPatch, path, body, out)
}

type fakeSessions bool

func (f fakeSessions) HasSession(context.Context) bool { return bool(f) }

func TestCurrent_NilWithoutSession(t *testing.T) {
	api := &fakeAPI{}
	c := New(api, fakeSessions(false))

	d, err := c.Current(context.Background())
	if err != nil || d != nil {
		t.Fatalf("expected nil tenant, got %+v %v", d, err)
	}
	if len(api.calls) != 0 {
		t.Fatalf("expected no backend call, got %+v", api.calls)
	}
}

func TestCurrent_DecodesDetails(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{
		"/tenants/me/": `{"id":4,"name":"Acme","schema_name":"acme","widget_accent":"#111",
			"on_trial":true,"plan":{"name":"Starter","slug":"starter","message_quota":1000,"monthly_price":"19.00"},
			"domains":[{"domain":"acme.test","is_primary":true}]}`,
	}}
	c := New(api, fakeSessions(true))

	d, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if d.ID != "4" || d.SchemaName != "acme" || !d.OnTrial {
		t.Fatalf("unexpected details: %+v", d)
	}
	if d.Plan == nil || d.Plan.MessageQuota != 1000 {
		t.Fatalf("unexpected plan: %+v", d.Plan)
	}
	if len(d.Domains) != 1 || !d.Domains[0].IsPrimary {
		t.Fatalf("unexpected domains: %+v", d.Domains)
	}
}

func TestUpdateSettings_SendsOnlySetFields(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{
		"/tenants/me/settings/": `{"widget_accent":"#222","widget_welcome_message":"Hi","widget_primary_color":"#333"}`,
	}}
	c := New(api, fakeSessions(true))

	out, err := c.UpdateSettings(context.Background(), Settings{WidgetAccent: StringPtr("#222")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := api.calls[0]; got.method != http.MethodPatch || got.body != `{"widget_accent":"#222"}` {
		t.Fatalf("unexpected call: %+v", got)
	}
	if out.WidgetWelcomeMessage == nil || *out.WidgetWelcomeMessage != "Hi" {
		t.Fatalf("unexpected settings: %+v", out)
	}
}

func TestAddDomain(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{
		"/tenants/me/domains/": `{"domain":"shop.acme.test","is_primary":false}`,
	}}
	c := New(api, fakeSessions(true))

	if _, err := c.AddDomain(context.Background(), "  ", false); !errors.Is(err, ErrEmptyDomain) {
		t.Fatalf("expected ErrEmptyDomain, got %v", err)
	}
	d, err := c.AddDomain(context.Background(), " Shop.Acme.test ", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if d.Domain != "shop.acme.test" {
		t.Fatalf("unexpected domain: %+v", d)
	}
	if got := api.calls[0].body; got != `{"domain":"Shop.Acme.test","is_primary":false}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestEmbedAnalyticsProfile(t *testing.T) {
	api := &fakeAPI{responses: map[string]string{
		"/tenants/me/embed/": `{"embed_code":"<script></script>"}`,
		"/chat/analytics/":   `{"total_sessions":2,"total_messages":5,"role_breakdown":{"user":3,"bot":2},"recent_sessions":[{"user_id":"widget-acme","last_interaction_at":"2024-05-01T10:00:00Z"}]}`,
		"/auth/me/":          `{"id":"7","username":"owner","email":"o@acme.test"}`,
	}}
	c := New(api, fakeSessions(true))
	ctx := context.Background()

	code, err := c.EmbedCode(ctx)
	if err != nil || code != "<script></script>" {
		t.Fatalf("embed: %q %v", code, err)
	}
	a, err := c.Analytics(ctx)
	if err != nil || a.TotalMessages != 5 || a.RoleBreakdown["user"] != 3 || len(a.RecentSessions) != 1 {
		t.Fatalf("analytics: %+v %v", a, err)
	}
	p, err := c.Profile(ctx)
	if err != nil || p.ID != "7" || p.Username != "owner" {
		t.Fatalf("profile: %+v %v", p, err)
	}
}

func TestErrorsPassThrough(t *testing.T) {
	api := &fakeAPI{fail: &common.APIError{Method: http.MethodGet, Path: "/tenants/me/", Status: http.StatusNotFound}}
	c := New(api, fakeSessions(true))

	if _, err := c.Current(context.Background()); common.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
