package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suPer8Hu/shoshchat-widget/internal/auth"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
	"github.com/suPer8Hu/shoshchat-widget/internal/store/kv"
)

// backend accepts only the "fresh" bearer on /chat/ and hands it out on refresh.
type backend struct {
	srv *httptest.Server

	refreshCalls atomic.Int32
	chatCalls    atomic.Int32

	refreshDelay  time.Duration
	refreshStatus int
	chatStatus    int // forced status for /chat/, 0 means normal auth check

	// barrier holds 401 responses until barrierN requests have arrived.
	barrierN    int32
	arrived     atomic.Int32
	barrierOpen chan struct{}
	openOnce    sync.Once

	mu         sync.Mutex
	authHeader []string
	requestIDs []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{barrierOpen: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}
		if b.refreshStatus != 0 {
			w.WriteHeader(b.refreshStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "fresh"})
	})
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		b.chatCalls.Add(1)
		b.mu.Lock()
		b.authHeader = append(b.authHeader, r.Header.Get("Authorization"))
		b.requestIDs = append(b.requestIDs, r.Header.Get("X-Request-ID"))
		b.mu.Unlock()

		if b.chatStatus != 0 {
			w.WriteHeader(b.chatStatus)
			_, _ = w.Write([]byte(`{"detail":"forced"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			if b.barrierN > 0 {
				if b.arrived.Add(1) >= b.barrierN {
					b.openOnce.Do(func() { close(b.barrierOpen) })
				}
				select {
				case <-b.barrierOpen:
				case <-time.After(2 * time.Second):
				}
			}
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
			return
		}
		var req chatReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "echo: " + req.Message})
	})
	mux.HandleFunc("/chat/sessions/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":12,"user_id":"widget-acme","messages":[
			{"id":3,"role":"user","content":"hi","response_text":"hello","created_at":"2024-05-01T10:00:00.250000Z"}]}]`))
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func newTestClient(t *testing.T, b *backend, sess auth.Session) (*Client, *auth.SessionStore) {
	t.Helper()
	store := auth.NewSessionStore(kv.NewMemoryStore(), nil)
	if sess.AccessToken != "" {
		if err := store.Set(context.Background(), sess); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
	lc := auth.NewLifecycle(b.srv.URL, store)
	return New(b.srv.URL, lc), store
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const n = 8
	b := newBackend(t)
	b.barrierN = n
	b.refreshDelay = 200 * time.Millisecond
	c, store := newTestClient(t, b, auth.Session{AccessToken: "stale", RefreshToken: "r1"})

	replies := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			replies[i], errs[i] = c.SendChat(context.Background(), "ping", "widget-acme")
		}(i)
	}
	wg.Wait()

	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if replies[i] != "echo: ping" {
			t.Fatalf("request %d reply = %q", i, replies[i])
		}
	}
	if got := b.chatCalls.Load(); got != 2*n {
		t.Fatalf("expected each request to be retried once (%d calls), got %d", 2*n, got)
	}
	if store.AccessToken(context.Background()) != "fresh" {
		t.Fatalf("expected refreshed token persisted")
	}
}

func TestRetryIsCappedAtOne(t *testing.T) {
	b := newBackend(t)
	b.chatStatus = http.StatusUnauthorized
	c, store := newTestClient(t, b, auth.Session{AccessToken: "stale", RefreshToken: "r1"})

	_, err := c.SendChat(context.Background(), "ping", "widget-acme")
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := b.chatCalls.Load(); got != 2 {
		t.Fatalf("expected original plus one retry, got %d calls", got)
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	// The retried outcome is final; the refreshed session stays.
	if store.AccessToken(context.Background()) != "fresh" {
		t.Fatalf("expected session kept after failed retry")
	}

	b.mu.Lock()
	ids := append([]string(nil), b.requestIDs...)
	b.mu.Unlock()
	if len(ids) != 2 || ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("expected retry to reuse request id, got %v", ids)
	}
}

func TestNon401IsNotRetried(t *testing.T) {
	b := newBackend(t)
	b.chatStatus = http.StatusInternalServerError
	c, _ := newTestClient(t, b, auth.Session{AccessToken: "stale", RefreshToken: "r1"})

	_, err := c.SendChat(context.Background(), "ping", "widget-acme")
	if common.StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %v", err)
	}
	if errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("500 must not match ErrUnauthorized")
	}
	if b.chatCalls.Load() != 1 || b.refreshCalls.Load() != 0 {
		t.Fatalf("expected one call and no refresh, got %d/%d", b.chatCalls.Load(), b.refreshCalls.Load())
	}
}

func TestRefreshFailureInvalidatesSession(t *testing.T) {
	b := newBackend(t)
	b.refreshStatus = http.StatusUnauthorized
	c, store := newTestClient(t, b, auth.Session{AccessToken: "stale", RefreshToken: "r1"})
	ctx := context.Background()

	_, err := c.SendChat(ctx, "ping", "widget-acme")
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected original 401, got %v", err)
	}
	if store.Get(ctx) != nil {
		t.Fatalf("expected session cleared")
	}

	_, _ = c.SendChat(ctx, "again", "widget-acme")
	b.mu.Lock()
	last := b.authHeader[len(b.authHeader)-1]
	b.mu.Unlock()
	if last != "" {
		t.Fatalf("expected no bearer after invalidation, got %q", last)
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected no refresh without a refresh token, got %d calls", got)
	}
}

func TestMissingRefreshTokenInvalidatesWithoutCall(t *testing.T) {
	b := newBackend(t)
	c, store := newTestClient(t, b, auth.Session{AccessToken: "stale"})
	ctx := context.Background()

	_, err := c.SendChat(ctx, "ping", "widget-acme")
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if b.refreshCalls.Load() != 0 {
		t.Fatalf("expected no refresh call")
	}
	if b.chatCalls.Load() != 1 {
		t.Fatalf("expected no retry, got %d calls", b.chatCalls.Load())
	}
	if store.Get(ctx) != nil {
		t.Fatalf("expected session cleared")
	}
}

func TestNetworkFailure(t *testing.T) {
	b := newBackend(t)
	c, _ := newTestClient(t, b, auth.Session{AccessToken: "fresh", RefreshToken: "r1"})
	b.srv.Close()

	_, err := c.SendChat(context.Background(), "ping", "widget-acme")
	if !errors.Is(err, common.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

type staticAuth struct{ token string }

func (a staticAuth) AccessToken(context.Context) string      { return a.token }
func (a staticAuth) Refresh(context.Context) (string, error) { return "", nil }
func (a staticAuth) Refreshing() bool                        { return false }
func (a staticAuth) Invalidate(context.Context)              {}

func TestTimeoutLeavesSharedClientAlone(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	shared := &http.Client{}
	c := New(slow.URL, staticAuth{token: "t"}, WithHTTPClient(shared), WithTimeout(50*time.Millisecond))
	if shared.Timeout != 0 {
		t.Fatalf("expected the shared client to keep its timeout, got %v", shared.Timeout)
	}

	start := time.Now()
	err := c.Get(context.Background(), "/chat/sessions/", nil)
	if !errors.Is(err, common.ErrNetwork) {
		t.Fatalf("expected ErrNetwork on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected the attempt to be bounded, took %v", elapsed)
	}
}

func TestListChatSessions(t *testing.T) {
	b := newBackend(t)
	c, _ := newTestClient(t, b, auth.Session{AccessToken: "fresh", RefreshToken: "r1"})

	sessions, err := c.ListChatSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "12" || sessions[0].UserID != "widget-acme" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	m := sessions[0].Messages[0]
	if m.ID != "3" || m.ResponseText != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 250_000_000, time.UTC)
	if !m.CreatedTime().Equal(want) {
		t.Fatalf("created time = %v, want %v", m.CreatedTime(), want)
	}
}

func TestCreatedTimeTolerance(t *testing.T) {
	if got := (RemoteMessage{CreatedAt: "2024-05-01T10:00:00"}).CreatedTime(); got.IsZero() {
		t.Fatalf("expected naive timestamp to parse")
	}
	if got := (RemoteMessage{CreatedAt: "yesterday"}).CreatedTime(); !got.IsZero() {
		t.Fatalf("expected zero time for garbage, got %v", got)
	}
}
