package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tg-warden/warden/internal/moderation"
)

// fallbackReason is used when the admin omits the free-text reason; the
// orchestrator rejects empty reasons outright.
const fallbackReason = "manual moderation action"

// NewBanHandler returns a handler for the /warden_ban command.
func NewBanHandler(deps HandlerDeps) bot.HandlerFunc {
	return newModerationCommand(deps, "ban", func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result {
		return deps.Moderation.BanUser(ctx, moderation.BanIntent{Intent: intent})
	})
}

// NewUnbanHandler returns a handler for the /warden_unban command. Unbanning
// restores trust so a wrongly banned user is not immediately re-flagged.
func NewUnbanHandler(deps HandlerDeps) bot.HandlerFunc {
	return newModerationCommand(deps, "unban", func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result {
		return deps.Moderation.UnbanUser(ctx, moderation.UnbanIntent{Intent: intent, RestoreTrust: true})
	})
}

// NewWarnHandler returns a handler for the /warden_warn command.
func NewWarnHandler(deps HandlerDeps) bot.HandlerFunc {
	return newModerationCommand(deps, "warn", func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result {
		return deps.Moderation.WarnUser(ctx, moderation.WarnIntent{
			Intent: intent,
			Chat:   moderation.ChatRef{ID: msg.Chat.ID, Title: msg.Chat.Title},
		})
	})
}

// NewTrustHandler returns a handler for the /warden_trust command.
func NewTrustHandler(deps HandlerDeps) bot.HandlerFunc {
	return newModerationCommand(deps, "trust", func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result {
		return deps.Moderation.TrustUser(ctx, moderation.TrustIntent{Intent: intent})
	})
}

// NewUntrustHandler returns a handler for the /warden_untrust command.
func NewUntrustHandler(deps HandlerDeps) bot.HandlerFunc {
	return newModerationCommand(deps, "untrust", func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result {
		return deps.Moderation.UntrustUser(ctx, moderation.UntrustIntent{Intent: intent})
	})
}

// NewSpamHandler returns a handler for the /warden_spam command. It only
// works as a reply: the replied-to message is deleted, its author banned
// everywhere, and the content captured as a labeled training sample.
func NewSpamHandler(deps HandlerDeps) bot.HandlerFunc {
	return spamHandler{deps}.Handle
}

type spamHandler struct {
	deps HandlerDeps
}

func (h spamHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "spam")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		reply(ctx, b, log, msg.Chat.ID, "Reply to the spam message with /warden_spam.")
		return
	}

	target := msg.ReplyToMessage
	photoFileID := ""
	if len(target.Photo) > 0 {
		photoFileID = bestPhoto(target.Photo).FileID
	}
	text := target.Text
	if text == "" {
		text = target.Caption
	}

	res := h.deps.Moderation.MarkAsSpamAndBan(ctx, moderation.SpamBanIntent{
		Intent: moderation.Intent{
			User:     moderation.UserRef{ID: target.From.ID, Name: target.From.Username},
			Executor: moderation.TelegramUser(msg.From.ID),
			Reason:   "marked as spam by admin",
		},
		Chat:        moderation.ChatRef{ID: msg.Chat.ID, Title: msg.Chat.Title},
		MessageID:   int64(target.ID),
		MessageText: text,
		PhotoFileID: photoFileID,
	})

	log.InfoContext(ctx, "Handled /warden_spam",
		"chat_id", msg.Chat.ID, "target_user_id", target.From.ID, "success", res.Success)
	reply(ctx, b, log, msg.Chat.ID, resultText("mark as spam", res))
}

// newModerationCommand wraps the shared target/reason parsing around one
// orchestration call.
func newModerationCommand(
	deps HandlerDeps,
	action string,
	run func(ctx context.Context, deps HandlerDeps, intent moderation.Intent, msg *models.Message) moderation.Result,
) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", action)

		msg := update.Message
		if msg == nil || msg.From == nil {
			return
		}

		target, reason, ok := commandTarget(msg)
		if !ok {
			reply(ctx, b, log, msg.Chat.ID, "Usage: reply to the user's message, or pass a numeric user id.")
			return
		}
		if reason == "" {
			reason = fallbackReason
		}

		res := run(ctx, deps, moderation.Intent{
			User:     target,
			Executor: moderation.TelegramUser(msg.From.ID),
			Reason:   reason,
		}, msg)

		log.InfoContext(ctx, "Handled moderation command",
			"action", action, "chat_id", msg.Chat.ID, "target_user_id", target.ID, "success", res.Success)
		reply(ctx, b, log, msg.Chat.ID, resultText(action, res))
	}
}
