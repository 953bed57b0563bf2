package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tg-warden/warden/internal/database"
)

// AuditStore is the slice of the store the audit handler needs.
type AuditStore interface {
	SaveAuditEntry(ctx context.Context, entry *database.AuditEntry) error
}

// AuditHandler appends one audit trail row per moderation event.
type AuditHandler struct {
	store AuditStore
}

// NewAuditHandler creates the audit side effect.
func NewAuditHandler(store AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

func (h *AuditHandler) Name() string { return "audit" }

func (h *AuditHandler) Handle(ctx context.Context, event Event) error {
	entry := &database.AuditEntry{
		Action: string(event.Action),
		UserID: event.UserID,
		Actor:  event.Actor,
		Reason: event.Reason,
		Details: fmt.Sprintf("chats_affected=%d message_deleted=%t trust_removed=%t trust_restored=%t warning_count=%d",
			event.ChatsAffected, event.MessageDeleted, event.TrustRemoved, event.TrustRestored, event.WarningCount),
	}
	if event.ChatID != 0 {
		entry.ChatID = sql.NullInt64{Int64: event.ChatID, Valid: true}
	}
	return h.store.SaveAuditEntry(ctx, entry)
}
