package apiclient

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

type chatReq struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type chatResp struct {
	Reply string `json:"reply"`
}

// RemoteMessage is one stored prompt with its optional reply.
type RemoteMessage struct {
	ID           common.FlexID `json:"id"`
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	ResponseText string        `json:"response_text,omitempty"`
	CreatedAt    string        `json:"created_at"`
}

// CreatedTime parses CreatedAt. Unparsable values yield the zero time.
func (m RemoteMessage) CreatedTime() time.Time {
	s := strings.TrimSpace(m.CreatedAt)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// RemoteSession is a server-side conversation.
type RemoteSession struct {
	ID                common.FlexID   `json:"id"`
	UserID            string          `json:"user_id"`
	StartedAt         string          `json:"started_at,omitempty"`
	LastInteractionAt string          `json:"last_interaction_at,omitempty"`
	Messages          []RemoteMessage `json:"messages"`
}

// SendChat posts a visitor message and returns the assistant reply, which may
// be empty.
func (c *Client) SendChat(ctx context.Context, message, userID string) (string, error) {
	var resp chatResp
	if err := c.Post(ctx, "/chat/", chatReq{Message: message, UserID: userID}, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// ListChatSessions returns the tenant's server-side sessions.
func (c *Client) ListChatSessions(ctx context.Context) ([]RemoteSession, error) {
	var sessions []RemoteSession
	if err := c.Get(ctx, "/chat/sessions/", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
