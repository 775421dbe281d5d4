package chat

import (
	"fmt"
	"sort"
	"time"

	"github.com/suPer8Hu/shoshchat-widget/internal/apiclient"
)

// findSession picks the remote session the tenant's widget conversation was
// recorded under.
func findSession(sessions []apiclient.RemoteSession, tenantID string) *apiclient.RemoteSession {
	want := UserIDFor(tenantID)
	for i := range sessions {
		if sessions[i].UserID == want {
			return &sessions[i]
		}
	}
	return nil
}

// rebuildHistory turns stored prompts into chronological messages. Each prompt
// with a reply yields a second bot message one millisecond later. When since is
// set, prompts created at or before it are left out.
func rebuildHistory(sess *apiclient.RemoteSession, since time.Time) []Message {
	if sess == nil {
		return nil
	}
	remote := append([]apiclient.RemoteMessage(nil), sess.Messages...)
	sort.SliceStable(remote, func(i, j int) bool {
		return remote[i].CreatedTime().Before(remote[j].CreatedTime())
	})

	out := make([]Message, 0, 2*len(remote))
	for _, m := range remote {
		created := m.CreatedTime()
		if !since.IsZero() && !created.After(since) {
			continue
		}
		role := RoleBot
		if m.Role == string(RoleUser) {
			role = RoleUser
		}
		out = append(out, Message{
			ID:        fmt.Sprintf("remote-%s-%s-prompt", sess.ID, m.ID),
			Role:      role,
			Content:   m.Content,
			Status:    StatusSent,
			CreatedAt: created,
		})
		if m.ResponseText != "" {
			out = append(out, Message{
				ID:        fmt.Sprintf("remote-%s-%s-reply", sess.ID, m.ID),
				Role:      RoleBot,
				Content:   m.ResponseText,
				Status:    StatusSent,
				CreatedAt: created.Add(time.Millisecond),
			})
		}
	}
	return out
}
