package chat

import (
	"context"
	"time"
)

type EventType string

const (
	EventMessageSent       EventType = "message_sent"
	EventReplyReceived     EventType = "reply_received"
	EventReplyFailed       EventType = "reply_failed"
	EventConversationReset EventType = "conversation_reset"
	EventHistoryHydrated   EventType = "history_hydrated"
)

// Event describes a committed change to a conversation.
type Event struct {
	Type       EventType `json:"type"`
	TenantID   string    `json:"tenant_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Role       Role      `json:"role,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Content    string    `json:"content,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventSink receives controller events. Failures are logged by the caller and
// never affect the conversation.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
