package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// API wraps the go-telegram/bot client with the chat-management operations
// the moderation handlers need. It implements moderation.ChatAPI,
// events.Notifier, jobs.MessageDeleter, and vision.FileFetcher.
type API struct {
	bot        *bot.Bot
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAPI creates the transport adapter.
func NewAPI(b *bot.Bot, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{
		bot:        b,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "telegram_api"),
	}
}

// BanUser bans the user in one chat. until is the zero time for a permanent
// ban; Telegram treats expiries beyond 366 days the same way.
func (a *API) BanUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	params := &bot.BanChatMemberParams{
		ChatID:         chatID,
		UserID:         userID,
		RevokeMessages: true,
	}
	if !until.IsZero() {
		params.UntilDate = int(until.Unix())
	}
	if _, err := a.bot.BanChatMember(ctx, params); err != nil {
		return fmt.Errorf("ban in chat %d failed: %w", chatID, err)
	}
	return nil
}

// UnbanUser lifts the user's ban in one chat.
func (a *API) UnbanUser(ctx context.Context, chatID, userID int64) error {
	if _, err := a.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       chatID,
		UserID:       userID,
		OnlyIfBanned: true,
	}); err != nil {
		return fmt.Errorf("unban in chat %d failed: %w", chatID, err)
	}
	return nil
}

// RestrictUser mutes the user in one chat until the given time.
func (a *API) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	if _, err := a.bot.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: &models.ChatPermissions{},
		UntilDate:   int(until.Unix()),
	}); err != nil {
		return fmt.Errorf("restrict in chat %d failed: %w", chatID, err)
	}
	return nil
}

// RestorePermissions lifts all restrictions for the user in one chat.
func (a *API) RestorePermissions(ctx context.Context, chatID, userID int64) error {
	if _, err := a.bot.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID: chatID,
		UserID: userID,
		Permissions: &models.ChatPermissions{
			CanSendMessages:       true,
			CanSendAudios:         true,
			CanSendDocuments:      true,
			CanSendPhotos:         true,
			CanSendVideos:         true,
			CanSendVideoNotes:     true,
			CanSendVoiceNotes:     true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}); err != nil {
		return fmt.Errorf("restoring permissions in chat %d failed: %w", chatID, err)
	}
	return nil
}

// DeleteMessage removes one message from one chat.
func (a *API) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if _, err := a.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: int(messageID),
	}); err != nil {
		return fmt.Errorf("delete of message %d in chat %d failed: %w", messageID, chatID, err)
	}
	return nil
}

// SendDM delivers a direct message to the user. Telegram only allows this
// when the user has started the bot; failures are the caller's to log.
func (a *API) SendDM(ctx context.Context, userID int64, text string) error {
	if _, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("DM to user %d failed: %w", userID, err)
	}
	return nil
}

// FetchFile downloads a Telegram file by id and sniffs its MIME type.
func (a *API) FetchFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	link := a.bot.FileDownloadLink(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("file download for %s returned status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", fileID, err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
