package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/suPer8Hu/shoshchat-widget/internal/store/kv"
)

const (
	HistoryKeyPrefix = "shoshchat.widget.history."
	ResetKeyPrefix   = "shoshchat.widget.reset."
	// HistoryLimit caps every persisted snapshot.
	HistoryLimit = 50
)

// HistoryStore keeps one JSON snapshot of recent messages per tenant.
type HistoryStore struct {
	kv     kv.Store
	logger *slog.Logger
}

func NewHistoryStore(store kv.Store, logger *slog.Logger) *HistoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryStore{kv: store, logger: logger}
}

func historyKey(tenantID string) string { return HistoryKeyPrefix + tenantID }

// Load returns the tenant's snapshot. Absent or unreadable snapshots are empty.
func (h *HistoryStore) Load(ctx context.Context, tenantID string) []Message {
	raw, ok, err := h.kv.Get(ctx, historyKey(tenantID))
	if err != nil {
		h.logger.Warn("unable to load cached messages", "tenant", tenantID, "error", err)
		return []Message{}
	}
	if !ok || raw == "" {
		return []Message{}
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		h.logger.Warn("unable to load cached messages", "tenant", tenantID, "error", err)
		return []Message{}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs
}

// Save overwrites the snapshot with the last HistoryLimit messages.
func (h *HistoryStore) Save(ctx context.Context, tenantID string, msgs []Message) error {
	b, err := json.Marshal(lastN(msgs, HistoryLimit))
	if err != nil {
		return err
	}
	return h.kv.Set(ctx, historyKey(tenantID), string(b))
}

func (h *HistoryStore) Delete(ctx context.Context, tenantID string) error {
	return h.kv.Delete(ctx, historyKey(tenantID))
}

// MarkReset records when the tenant's conversation was last cleared on this
// device. Hydration ignores remote messages from before it.
func (h *HistoryStore) MarkReset(ctx context.Context, tenantID string, at time.Time) error {
	return h.kv.Set(ctx, ResetKeyPrefix+tenantID, at.UTC().Format(time.RFC3339Nano))
}

// ResetAt returns the last MarkReset time. ok is false when none is recorded.
func (h *HistoryStore) ResetAt(ctx context.Context, tenantID string) (at time.Time, ok bool) {
	raw, found, err := h.kv.Get(ctx, ResetKeyPrefix+tenantID)
	if err != nil {
		h.logger.Warn("unable to load reset marker", "tenant", tenantID, "error", err)
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}
	at, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		h.logger.Warn("unable to load reset marker", "tenant", tenantID, "error", err)
		return time.Time{}, false
	}
	return at, true
}

func lastN(msgs []Message, n int) []Message {
	if msgs == nil {
		return []Message{}
	}
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
