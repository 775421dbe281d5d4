package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

type chatReq struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

func (h *Handler) SendChat(c *gin.Context) {
	h.chatCalls.Add(1)

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.UserID == "" || len(req.UserID) > 255 {
		detail(c, http.StatusBadRequest, "message and user_id are required")
		return
	}

	reply, err := h.replier.Reply(c.Request.Context(), req.Message, req.UserID)
	if err != nil {
		slog.Warn("replier failed", "user_id", req.UserID, "error", err)
		detail(c, http.StatusBadGateway, "assistant unavailable")
		return
	}

	h.mu.Lock()
	now := h.now().UTC()
	sess := h.sessionFor(req.UserID)
	if sess == nil {
		sess = &chatSession{ID: h.id(), UserID: req.UserID, StartedAt: now}
		h.sessions = append(h.sessions, sess)
	}
	sess.Messages = append(sess.Messages, storedMessage{
		ID:           h.id(),
		Role:         "user",
		Content:      req.Message,
		ResponseText: reply,
		CreatedAt:    now,
	})
	sess.LastInteractionAt = now
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// ListSessions returns sessions, most recently active first.
func (h *Handler) ListSessions(c *gin.Context) {
	h.mu.Lock()
	out := make([]chatSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		cp := *s
		cp.Messages = append([]storedMessage(nil), s.Messages...)
		out = append(out, cp)
	}
	h.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastInteractionAt.After(out[j].LastInteractionAt)
	})
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Analytics(c *gin.Context) {
	h.mu.Lock()
	totalMessages := 0
	roles := map[string]int{}
	recent := make([]*chatSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		totalMessages += len(s.Messages)
		for _, m := range s.Messages {
			roles[m.Role]++
		}
		recent = append(recent, s)
	}
	totalSessions := len(h.sessions)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].LastInteractionAt.After(recent[j].LastInteractionAt)
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}
	recentOut := make([]gin.H, 0, len(recent))
	for _, s := range recent {
		recentOut = append(recentOut, gin.H{"user_id": s.UserID, "last_interaction_at": s.LastInteractionAt})
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"total_sessions":  totalSessions,
		"total_messages":  totalMessages,
		"role_breakdown":  roles,
		"recent_sessions": recentOut,
	})
}

func (h *Handler) sessionFor(userID string) *chatSession {
	for _, s := range h.sessions {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}
