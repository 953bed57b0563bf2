package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tg-warden/warden/internal/database"
	"github.com/tg-warden/warden/internal/detection"
	"github.com/tg-warden/warden/internal/moderation"
)

const dbSaveTimeout = 5 * time.Second

// NewMessageHandler returns the default handler: every group message flows
// through it. It records the message, runs the detection engine, persists the
// verdict, and enforces the classification.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	photoFileID := ""
	if len(msg.Photo) > 0 {
		photoFileID = bestPhoto(msg.Photo).FileID
	}
	if text == "" && photoFileID == "" {
		return
	}

	h.recordChat(ctx, msg)
	h.recordMessage(ctx, msg, text, photoFileID)

	if h.exempt(ctx, msg.From.ID) {
		log.DebugContext(ctx, "Sender exempt from detection", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		return
	}

	req := detection.Request{
		ChatID:      msg.Chat.ID,
		ChatTitle:   msg.Chat.Title,
		MessageID:   int64(msg.ID),
		UserID:      msg.From.ID,
		UserName:    msg.From.Username,
		Text:        text,
		PhotoFileID: photoFileID,
	}
	outcome := deps.Runner.Run(ctx, req)

	h.recordOutcome(ctx, req, outcome)

	switch outcome.Classification {
	case detection.ClassificationAutoBan:
		h.enforceAutoBan(ctx, req, outcome)
	case detection.ClassificationReview:
		h.notifyReview(ctx, req, outcome)
	}
}

func (h messageHandler) recordChat(ctx context.Context, msg *models.Message) {
	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()
	if err := h.deps.Store.UpsertManagedChat(dbCtx, &database.ManagedChat{
		ChatID: msg.Chat.ID,
		Title:  msg.Chat.Title,
	}); err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to upsert managed chat", "error", err, "chat_id", msg.Chat.ID)
	}
}

func (h messageHandler) recordMessage(ctx context.Context, msg *models.Message, text, photoFileID string) {
	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()
	if err := h.deps.Store.SaveMessage(dbCtx, &database.Message{
		ChatID:      msg.Chat.ID,
		MessageID:   int64(msg.ID),
		UserID:      msg.From.ID,
		UserName:    msg.From.Username,
		Content:     text,
		PhotoFileID: photoFileID,
		Timestamp:   time.Unix(int64(msg.Date), 0),
	}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to save incoming message",
			"error", err, "chat_id", msg.Chat.ID, "message_id", msg.ID)
	}
}

// exempt reports whether detection is skipped for this sender: the admin,
// protected accounts, and trusted users are never scanned.
func (h messageHandler) exempt(ctx context.Context, userID int64) bool {
	if userID == h.deps.Config.Telegram.AdminID {
		return true
	}
	if h.deps.Config.Moderation.IsProtected(userID) {
		return true
	}

	trusted, err := h.deps.Store.IsTrusted(ctx, userID)
	if err != nil {
		h.deps.Logger.WarnContext(ctx, "Trust lookup failed, scanning message anyway",
			"error", err, "user_id", userID)
		return false
	}
	return trusted
}

func (h messageHandler) recordOutcome(ctx context.Context, req detection.Request, outcome detection.Outcome) {
	rows := make([]database.DetectionCheckRow, 0, len(outcome.Checks))
	for _, resp := range outcome.Checks {
		row := database.DetectionCheckRow{
			CheckName:  resp.CheckName,
			Result:     string(resp.Result),
			Confidence: resp.Confidence,
			Details:    resp.Details,
		}
		if resp.Err != nil {
			row.Error = resp.Err.Error()
		}
		rows = append(rows, row)
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()
	if err := h.deps.Store.SaveDetectionOutcome(dbCtx, &database.DetectionOutcome{
		ChatID:         req.ChatID,
		MessageID:      req.MessageID,
		UserID:         req.UserID,
		NetConfidence:  outcome.NetConfidence,
		Classification: string(outcome.Classification),
	}, rows); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to persist detection outcome",
			"error", err, "chat_id", req.ChatID, "message_id", req.MessageID)
	}
}

func (h messageHandler) enforceAutoBan(ctx context.Context, req detection.Request, outcome detection.Outcome) {
	log := h.deps.Logger.With("handler", "message")
	log.InfoContext(ctx, "Auto-ban classification, marking message as spam",
		"chat_id", req.ChatID, "message_id", req.MessageID,
		"user_id", req.UserID, "net_confidence", outcome.NetConfidence)

	res := h.deps.Moderation.MarkAsSpamAndBan(ctx, moderation.SpamBanIntent{
		Intent: moderation.Intent{
			User:     moderation.UserRef{ID: req.UserID, Name: req.UserName},
			Executor: moderation.AutoDetection(),
			Reason:   banReason(outcome),
		},
		Chat:        moderation.ChatRef{ID: req.ChatID, Title: req.ChatTitle},
		MessageID:   req.MessageID,
		MessageText: req.Text,
		PhotoFileID: req.PhotoFileID,
	})
	if !res.Success {
		log.ErrorContext(ctx, "Auto-ban enforcement failed",
			"chat_id", req.ChatID, "user_id", req.UserID, "error", res.ErrorMessage)
	}
}

func (h messageHandler) notifyReview(ctx context.Context, req detection.Request, outcome detection.Outcome) {
	log := h.deps.Logger.With("handler", "message")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review needed in %q: message %d from %s (%d), net confidence %d%%.\n",
		req.ChatTitle, req.MessageID, req.UserName, req.UserID, outcome.NetConfidence)
	for _, resp := range outcome.Checks {
		if resp.Skipped {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s (%d%%) %s\n", resp.CheckName, resp.Result, resp.Confidence, resp.Details)
	}
	if req.Text != "" {
		fmt.Fprintf(&sb, "Text: %s", truncateForNotice(req.Text))
	}

	if err := h.deps.Notifier.SendDM(ctx, h.deps.Config.Telegram.AdminID, sb.String()); err != nil {
		log.WarnContext(ctx, "Failed to notify admin about review classification",
			"error", err, "chat_id", req.ChatID, "message_id", req.MessageID)
	}
}

// banReason summarizes the spam-voting checks for the audit trail.
func banReason(outcome detection.Outcome) string {
	parts := make([]string, 0, len(outcome.Checks))
	for _, resp := range outcome.Checks {
		if resp.Result != detection.ResultSpam || resp.Skipped {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", resp.CheckName, resp.Details))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("automatic spam detection (net confidence %d%%)", outcome.NetConfidence)
	}
	return fmt.Sprintf("automatic spam detection (net confidence %d%%): %s",
		outcome.NetConfidence, strings.Join(parts, "; "))
}

// bestPhoto picks the largest rendition of a photo message.
func bestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func truncateForNotice(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
