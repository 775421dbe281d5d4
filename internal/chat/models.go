package chat

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Status is the delivery phase of a message. A pending bot placeholder moves to
// sent or error in place; its ID never changes.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a point-in-time copy of a controller's state.
type Conversation struct {
	TenantID string    `json:"tenant_id"`
	Messages []Message `json:"messages"`
	IsTyping bool      `json:"is_typing"`
	Error    string    `json:"error,omitempty"`
}

const (
	PendingContent    = "…"
	NoReplyContent    = "No response available."
	FailedContent     = "Unable to reach ShoshChat right now."
	ConnectivityError = "We ran into a connectivity issue. Please try again."
)

// UserIDFor is the backend user id a tenant's widget conversation runs under.
func UserIDFor(tenantID string) string {
	return "widget-" + tenantID
}
