// Package chat holds the per-tenant conversation state machine and its local
// history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/shoshchat-widget/internal/apiclient"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

var ErrClosed = errors.New("conversation controller is closed")

// ChatAPI is the slice of the backend the controller talks to.
type ChatAPI interface {
	SendChat(ctx context.Context, message, userID string) (string, error)
	ListChatSessions(ctx context.Context) ([]apiclient.RemoteSession, error)
}

// Credentials reports whether a bearer credential is available.
type Credentials interface {
	HasSession(ctx context.Context) bool
}

// Controller owns one live conversation at a time. The mutex guards all state
// and is never held across a backend call. Every tenant switch or Close starts
// a new activation, and work begun under an older activation never commits to
// the live conversation.
type Controller struct {
	api     ChatAPI
	creds   Credentials
	history *HistoryStore
	sink    EventSink
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	tenant     string
	messages   []Message
	typing     bool
	errMsg     string
	pendingID  string
	activation uint64
	closed     bool

	fetched      bool
	hydratingAct uint64
	sentThisAct  bool
}

type ControllerOption func(*Controller)

func WithEventSink(sink EventSink) ControllerOption {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController loads the tenant's snapshot. Loading never writes it back.
func NewController(ctx context.Context, tenantID string, api ChatAPI, creds Credentials, history *HistoryStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		api:     api,
		creds:   creds,
		history: history,
		sink:    NopSink{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tenant = tenantID
	c.activation = 1
	c.messages = history.Load(ctx, tenantID)
	return c
}

// SendMessage appends the visitor's message and a pending reply, then asks the
// backend. Empty text and sends made while a reply is outstanding are ignored.
// A failed send returns an error wrapping common.ErrSendFailed.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.typing {
		c.mu.Unlock()
		return nil
	}
	act, tenant := c.activation, c.tenant
	now := c.now()
	user := Message{ID: uuid.NewString(), Role: RoleUser, Content: content, Status: StatusSent, CreatedAt: now}
	pending := Message{ID: uuid.NewString(), Role: RoleBot, Content: PendingContent, Status: StatusPending, CreatedAt: now}
	c.errMsg = ""
	c.messages = append(c.messages, user, pending)
	c.typing = true
	c.pendingID = pending.ID
	c.sentThisAct = true
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.emit(ctx, Event{Type: EventMessageSent, TenantID: tenant, MessageID: user.ID, Role: user.Role, Status: user.Status, Content: user.Content})

	reply, err := c.api.SendChat(ctx, content, UserIDFor(tenant))

	outcome := Message{ID: pending.ID, Role: RoleBot, CreatedAt: pending.CreatedAt}
	if err != nil {
		outcome.Status = StatusError
		outcome.Content = FailedContent
		c.logger.Warn("chat send failed", "tenant", tenant, "error", err)
	} else {
		outcome.Status = StatusSent
		outcome.CreatedAt = c.now()
		outcome.Content = reply
		if outcome.Content == "" {
			outcome.Content = NoReplyContent
		}
	}

	c.mu.Lock()
	if act == c.activation {
		c.resolveLocked(ctx, outcome, err != nil)
	} else {
		c.resolveStaleLocked(ctx, tenant, outcome)
	}
	c.mu.Unlock()

	ev := Event{Type: EventReplyReceived, TenantID: tenant, MessageID: outcome.ID, Role: RoleBot, Status: outcome.Status, Content: outcome.Content}
	if err != nil {
		ev.Type = EventReplyFailed
		c.emit(ctx, ev)
		return fmt.Errorf("%w: %w", common.ErrSendFailed, err)
	}
	c.emit(ctx, ev)
	return nil
}

// resolveLocked applies a send outcome to the live conversation.
func (c *Controller) resolveLocked(ctx context.Context, outcome Message, failed bool) {
	current := c.pendingID == outcome.ID
	if current {
		c.typing = false
		c.pendingID = ""
		if failed {
			c.errMsg = ConnectivityError
		}
	}
	if patchMessage(c.messages, outcome) {
		c.persistLocked(ctx)
	}
}

// resolveStaleLocked writes an outcome whose activation has ended. Only the
// originating tenant's snapshot is touched, plus the live list when it is that
// same tenant showing that same placeholder again.
func (c *Controller) resolveStaleLocked(ctx context.Context, tenant string, outcome Message) {
	snapshot := c.history.Load(ctx, tenant)
	if patchMessage(snapshot, outcome) {
		if err := c.history.Save(ctx, tenant, snapshot); err != nil {
			c.logger.Warn("unable to persist chat history", "tenant", tenant, "error", err)
		}
	}
	if !c.closed && c.tenant == tenant {
		patchMessage(c.messages, outcome)
	}
}

// patchMessage replaces the message with outcome.ID in place.
func patchMessage(msgs []Message, outcome Message) bool {
	for i := range msgs {
		if msgs[i].ID == outcome.ID {
			msgs[i].Status = outcome.Status
			msgs[i].Content = outcome.Content
			msgs[i].CreatedAt = outcome.CreatedAt
			return true
		}
	}
	return false
}

// ResetConversation clears the live conversation and its snapshot. Server-side
// history is left alone, but later hydrations skip everything up to the reset.
func (c *Controller) ResetConversation(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tenant := c.tenant
	c.messages = []Message{}
	c.errMsg = ""
	c.typing = false
	c.pendingID = ""
	if err := c.history.Delete(ctx, tenant); err != nil {
		c.logger.Warn("unable to clear chat history", "tenant", tenant, "error", err)
	}
	if err := c.history.MarkReset(ctx, tenant, c.now()); err != nil {
		c.logger.Warn("unable to record conversation reset", "tenant", tenant, "error", err)
	}
	c.mu.Unlock()

	c.emit(ctx, Event{Type: EventConversationReset, TenantID: tenant})
}

// SwitchTenant makes tenantID the live conversation, loaded from its snapshot.
// Outstanding work from the previous tenant can no longer commit here.
func (c *Controller) SwitchTenant(ctx context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.activation++
	c.tenant = tenantID
	c.messages = c.history.Load(ctx, tenantID)
	c.errMsg = ""
	c.typing = false
	c.pendingID = ""
	c.fetched = false
	c.hydratingAct = 0
	c.sentThisAct = false
	c.logger.Debug("tenant switched", "tenant", tenantID, "messages", len(c.messages))
}

// Hydrate fills an empty conversation from server-side history, at most once
// per activation. It is skipped without a credential, while another hydration
// runs, and once a fetch has completed. Remote history is discarded if a send
// started in this activation or the local list is no longer empty.
//
// A 401 leaves the activation unfetched so a later call can retry. Other fetch
// errors are logged and returned, and mark the activation fetched.
func (c *Controller) Hydrate(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.fetched || c.hydratingAct == c.activation {
		c.mu.Unlock()
		return nil
	}
	if c.creds == nil || !c.creds.HasSession(ctx) {
		c.mu.Unlock()
		return nil
	}
	act, tenant := c.activation, c.tenant
	c.hydratingAct = act
	c.mu.Unlock()

	sessions, err := c.api.ListChatSessions(ctx)

	n, err := c.commitHydration(ctx, act, tenant, sessions, err)
	if n > 0 {
		c.emit(ctx, Event{Type: EventHistoryHydrated, TenantID: tenant, Content: fmt.Sprintf("%d messages", n)})
	}
	return err
}

// commitHydration applies a fetch result and reports how many messages it
// committed.
func (c *Controller) commitHydration(ctx context.Context, act uint64, tenant string, sessions []apiclient.RemoteSession, err error) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hydratingAct == act {
		c.hydratingAct = 0
	}
	if act != c.activation {
		return 0, nil
	}
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) || ctx.Err() != nil {
			return 0, err
		}
		c.fetched = true
		c.logger.Warn("unable to load remote chat history", "tenant", tenant, "error", err)
		return 0, err
	}
	c.fetched = true

	since, _ := c.history.ResetAt(ctx, tenant)
	hydrated := rebuildHistory(findSession(sessions, tenant), since)
	if len(hydrated) == 0 {
		return 0, nil
	}
	if len(c.messages) > 0 || c.sentThisAct {
		c.logger.Debug("remote history discarded", "tenant", tenant, "local", len(c.messages))
		return 0, nil
	}
	c.messages = hydrated
	c.persistLocked(ctx)
	c.logger.Info("hydrated chat history", "tenant", tenant, "messages", len(hydrated))
	return len(hydrated), nil
}

// Close ends the current activation. Outstanding sends still update the
// originating tenant's snapshot.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.activation++
	c.typing = false
	c.pendingID = ""
}

func (c *Controller) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenant
}

// Messages returns a copy of the live message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Controller) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) Snapshot() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Conversation{
		TenantID: c.tenant,
		Messages: append([]Message(nil), c.messages...),
		IsTyping: c.typing,
		Error:    c.errMsg,
	}
}

func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.history.Save(ctx, c.tenant, c.messages); err != nil {
		c.logger.Warn("unable to persist chat history", "tenant", c.tenant, "error", err)
	}
}

func (c *Controller) emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.now()
	}
	if err := c.sink.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("unable to publish chat event", "type", ev.Type, "tenant", ev.TenantID, "error", err)
	}
}
