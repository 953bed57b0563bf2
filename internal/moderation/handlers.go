package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tg-warden/warden/internal/database"
)

// ChatAPI is the slice of the Telegram transport the action handlers need.
// until is the zero time for permanent bans/restrictions.
type ChatAPI interface {
	BanUser(ctx context.Context, chatID, userID int64, until time.Time) error
	UnbanUser(ctx context.Context, chatID, userID int64) error
	RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error
	RestorePermissions(ctx context.Context, chatID, userID int64) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Each handler owns exactly one domain action and knows nothing about other
// handlers, events, or business rules. Handler results carry the signals the
// orchestrator needs to compose those rules.

type banResult struct {
	ChatsAffected     int
	ShouldRevokeTrust bool
	ExpiresAt         time.Time
}

type warnResult struct {
	WarningCount int
}

type untrustResult struct {
	TrustRemoved bool
}

type unbanResult struct {
	ChatsAffected int
}

type deleteResult struct {
	Deleted bool
}

type spamBanResult struct {
	Deleted       bool
	ChatsAffected int
}

type violationResult struct {
	Deleted       bool
	WarningCount  int
	ChatsAffected int
}

type banHandler struct {
	api    ChatAPI
	store  database.Store
	logger *slog.Logger
}

// Handle bans the user in every managed chat and records the ban. A chat
// where the transport call fails is skipped; the handler fails only when no
// chat could be banned at all.
func (h *banHandler) Handle(ctx context.Context, intent BanIntent, until time.Time) (banResult, error) {
	chats, err := h.store.ListManagedChats(ctx)
	if err != nil {
		return banResult{}, fmt.Errorf("failed to list managed chats: %w", err)
	}

	affected := 0
	var lastErr error
	for _, chat := range chats {
		if err := h.api.BanUser(ctx, chat.ChatID, intent.User.ID, until); err != nil {
			lastErr = err
			h.logger.WarnContext(ctx, "Failed to ban user in chat",
				"chat_id", chat.ChatID, "user_id", intent.User.ID, "error", err)
			continue
		}
		affected++
	}
	if len(chats) > 0 && affected == 0 {
		return banResult{}, fmt.Errorf("failed to ban user %d in any chat: %w", intent.User.ID, lastErr)
	}

	ban := &database.Ban{
		UserID:   intent.User.ID,
		Reason:   intent.Reason,
		IssuedBy: intent.Executor.String(),
	}
	if !until.IsZero() {
		ban.ExpiresAt = sql.NullTime{Time: until, Valid: true}
	}
	if err := h.store.AddBan(ctx, ban); err != nil {
		return banResult{}, fmt.Errorf("failed to record ban for user %d: %w", intent.User.ID, err)
	}

	return banResult{ChatsAffected: affected, ShouldRevokeTrust: true, ExpiresAt: until}, nil
}

type syncBanHandler struct {
	api ChatAPI
}

// Handle propagates an existing ban into one chat.
func (h *syncBanHandler) Handle(ctx context.Context, intent SyncBanIntent) error {
	if err := h.api.BanUser(ctx, intent.Chat.ID, intent.User.ID, time.Time{}); err != nil {
		return fmt.Errorf("failed to sync ban of user %d to chat %d: %w", intent.User.ID, intent.Chat.ID, err)
	}
	return nil
}

type unbanHandler struct {
	api    ChatAPI
	store  database.Store
	logger *slog.Logger
}

// Handle lifts the user's ban in every managed chat and deactivates the
// stored ban records.
func (h *unbanHandler) Handle(ctx context.Context, intent UnbanIntent) (unbanResult, error) {
	chats, err := h.store.ListManagedChats(ctx)
	if err != nil {
		return unbanResult{}, fmt.Errorf("failed to list managed chats: %w", err)
	}

	affected := 0
	var lastErr error
	for _, chat := range chats {
		if err := h.api.UnbanUser(ctx, chat.ChatID, intent.User.ID); err != nil {
			lastErr = err
			h.logger.WarnContext(ctx, "Failed to unban user in chat",
				"chat_id", chat.ChatID, "user_id", intent.User.ID, "error", err)
			continue
		}
		affected++
	}
	if len(chats) > 0 && affected == 0 {
		return unbanResult{}, fmt.Errorf("failed to unban user %d in any chat: %w", intent.User.ID, lastErr)
	}

	if _, err := h.store.DeactivateBans(ctx, intent.User.ID); err != nil {
		return unbanResult{}, fmt.Errorf("failed to deactivate bans for user %d: %w", intent.User.ID, err)
	}

	return unbanResult{ChatsAffected: affected}, nil
}

type warnHandler struct {
	store database.Store
}

// Handle records the warning and reports the user's total warning count.
func (h *warnHandler) Handle(ctx context.Context, intent WarnIntent) (warnResult, error) {
	count, err := h.store.AddWarning(ctx, &database.Warning{
		UserID:   intent.User.ID,
		ChatID:   intent.Chat.ID,
		Reason:   intent.Reason,
		IssuedBy: intent.Executor.String(),
	})
	if err != nil {
		return warnResult{}, fmt.Errorf("failed to record warning for user %d: %w", intent.User.ID, err)
	}
	return warnResult{WarningCount: count}, nil
}

type trustHandler struct {
	store database.Store
}

// Handle adds the user to the trusted list.
func (h *trustHandler) Handle(ctx context.Context, intent TrustIntent) error {
	if err := h.store.GrantTrust(ctx, intent.User.ID, intent.Executor.String()); err != nil {
		return fmt.Errorf("failed to grant trust to user %d: %w", intent.User.ID, err)
	}
	return nil
}

type untrustHandler struct {
	store database.Store
}

// Handle removes the user from the trusted list, reporting whether a trust
// record actually existed.
func (h *untrustHandler) Handle(ctx context.Context, intent UntrustIntent) (untrustResult, error) {
	removed, err := h.store.RevokeTrust(ctx, intent.User.ID)
	if err != nil {
		return untrustResult{}, fmt.Errorf("failed to revoke trust for user %d: %w", intent.User.ID, err)
	}
	return untrustResult{TrustRemoved: removed}, nil
}

type deleteMessageHandler struct {
	api    ChatAPI
	store  database.Store
	logger *slog.Logger
}

// Handle deletes one message. A transport failure (message already gone) is
// reported as Deleted=false, not as an error: deletion is idempotent from
// the caller's perspective.
func (h *deleteMessageHandler) Handle(ctx context.Context, chat ChatRef, messageID int64) (deleteResult, error) {
	deleted := true
	if err := h.api.DeleteMessage(ctx, chat.ID, messageID); err != nil {
		h.logger.InfoContext(ctx, "Message delete failed, treating as already gone",
			"chat_id", chat.ID, "message_id", messageID, "error", err)
		deleted = false
	}

	if err := h.store.DeleteMessageRecord(ctx, chat.ID, messageID); err != nil {
		h.logger.WarnContext(ctx, "Failed to delete message record",
			"chat_id", chat.ID, "message_id", messageID, "error", err)
	}

	return deleteResult{Deleted: deleted}, nil
}

type restrictHandler struct {
	api ChatAPI
}

// Handle mutes the user in one chat until now+Duration.
func (h *restrictHandler) Handle(ctx context.Context, intent RestrictIntent) (time.Time, error) {
	until := time.Now().Add(intent.Duration)
	if err := h.api.RestrictUser(ctx, intent.Chat.ID, intent.User.ID, until); err != nil {
		return time.Time{}, fmt.Errorf("failed to restrict user %d in chat %d: %w", intent.User.ID, intent.Chat.ID, err)
	}
	return until, nil
}

type restorePermissionsHandler struct {
	api ChatAPI
}

// Handle lifts the user's restrictions in one chat.
func (h *restorePermissionsHandler) Handle(ctx context.Context, intent RestorePermissionsIntent) error {
	if err := h.api.RestorePermissions(ctx, intent.Chat.ID, intent.User.ID); err != nil {
		return fmt.Errorf("failed to restore permissions for user %d in chat %d: %w", intent.User.ID, intent.Chat.ID, err)
	}
	return nil
}

type kickHandler struct {
	api ChatAPI
}

// Handle removes the user from one chat without a lasting ban (ban followed
// by immediate unban, the Telegram kick idiom).
func (h *kickHandler) Handle(ctx context.Context, intent KickIntent) error {
	if err := h.api.BanUser(ctx, intent.Chat.ID, intent.User.ID, time.Time{}); err != nil {
		return fmt.Errorf("failed to kick user %d from chat %d: %w", intent.User.ID, intent.Chat.ID, err)
	}
	if err := h.api.UnbanUser(ctx, intent.Chat.ID, intent.User.ID); err != nil {
		return fmt.Errorf("failed to lift kick ban for user %d in chat %d: %w", intent.User.ID, intent.Chat.ID, err)
	}
	return nil
}

type spamBanHandler struct {
	deleter *deleteMessageHandler
	banner  *banHandler
}

// Handle is the composite mark-as-spam action: delete the offending message,
// then ban the user everywhere. One domain action, one result.
func (h *spamBanHandler) Handle(ctx context.Context, intent SpamBanIntent) (spamBanResult, error) {
	del, err := h.deleter.Handle(ctx, intent.Chat, intent.MessageID)
	if err != nil {
		return spamBanResult{}, err
	}

	ban, err := h.banner.Handle(ctx, BanIntent{Intent: intent.Intent}, time.Time{})
	if err != nil {
		return spamBanResult{}, err
	}

	return spamBanResult{Deleted: del.Deleted, ChatsAffected: ban.ChatsAffected}, nil
}

type malwareViolationHandler struct {
	deleter *deleteMessageHandler
	warner  *warnHandler
}

// Handle deletes the message carrying the malicious file and warns the user.
func (h *malwareViolationHandler) Handle(ctx context.Context, intent MalwareViolationIntent) (violationResult, error) {
	del, err := h.deleter.Handle(ctx, intent.Chat, intent.MessageID)
	if err != nil {
		return violationResult{}, err
	}

	warn, err := h.warner.Handle(ctx, WarnIntent{Intent: intent.Intent, Chat: intent.Chat})
	if err != nil {
		return violationResult{}, err
	}

	return violationResult{Deleted: del.Deleted, WarningCount: warn.WarningCount}, nil
}

type criticalViolationHandler struct {
	deleter *deleteMessageHandler
	banner  *banHandler
}

// Handle deletes the message and bans the user everywhere immediately.
func (h *criticalViolationHandler) Handle(ctx context.Context, intent CriticalViolationIntent) (violationResult, error) {
	del, err := h.deleter.Handle(ctx, intent.Chat, intent.MessageID)
	if err != nil {
		return violationResult{}, err
	}

	ban, err := h.banner.Handle(ctx, BanIntent{Intent: intent.Intent}, time.Time{})
	if err != nil {
		return violationResult{}, err
	}

	return violationResult{Deleted: del.Deleted, ChatsAffected: ban.ChatsAffected}, nil
}
