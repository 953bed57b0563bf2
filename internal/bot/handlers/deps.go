package handlers

import (
	"context"
	"log/slog"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/database"
	"github.com/tg-warden/warden/internal/detection"
	"github.com/tg-warden/warden/internal/moderation"
)

// AdminNotifier delivers out-of-band alerts (review-queue notices) to the
// configured admin.
type AdminNotifier interface {
	SendDM(ctx context.Context, userID int64, text string) error
}

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Runner     *detection.Runner
	Moderation *moderation.Service
	Notifier   AdminNotifier
}
