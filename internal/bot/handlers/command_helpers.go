package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tg-warden/warden/internal/moderation"
)

// commandTarget resolves the user a moderation command applies to, plus the
// free-text reason. Commands work two ways: as a reply to one of the target's
// messages ("/warden_ban reason..."), or with an explicit user id as the
// first argument ("/warden_ban 12345 reason...").
func commandTarget(msg *models.Message) (moderation.UserRef, string, bool) {
	args := strings.Fields(msg.Text)
	if len(args) > 0 {
		args = args[1:] // drop the command itself
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		from := msg.ReplyToMessage.From
		return moderation.UserRef{ID: from.ID, Name: from.Username}, strings.Join(args, " "), true
	}

	if len(args) == 0 {
		return moderation.UserRef{}, "", false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return moderation.UserRef{}, "", false
	}
	return moderation.UserRef{ID: id}, strings.Join(args[1:], " "), true
}

// reply sends a plain-text response into the chat the command came from.
func reply(ctx context.Context, b *tgbot.Bot, log *slog.Logger, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send command reply", "error", err, "chat_id", chatID)
	}
}

// resultText renders a moderation result for the admin.
func resultText(action string, res moderation.Result) string {
	if !res.Success {
		return action + " failed: " + res.ErrorMessage
	}

	var sb strings.Builder
	sb.WriteString(action)
	sb.WriteString(" done")
	if res.ChatsAffected > 0 {
		sb.WriteString(" (" + strconv.Itoa(res.ChatsAffected) + " chats)")
	}
	if res.WarningCount > 0 {
		sb.WriteString(", warnings: " + strconv.Itoa(res.WarningCount))
	}
	if res.AutoBanTriggered {
		sb.WriteString(", warning threshold reached: user banned")
	}
	if res.TrustRemoved {
		sb.WriteString(", trust revoked")
	}
	if res.TrustRestored {
		sb.WriteString(", trust restored")
	}
	sb.WriteString(".")
	return sb.String()
}
