// Package main contains the entrypoint for the Warden moderation bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tg-warden/warden/internal/bot"
	"github.com/tg-warden/warden/internal/bot/handlers"
	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/database"
	"github.com/tg-warden/warden/internal/detection"
	"github.com/tg-warden/warden/internal/detection/checks/heuristic"
	"github.com/tg-warden/warden/internal/detection/checks/openai"
	"github.com/tg-warden/warden/internal/detection/checks/vision"
	"github.com/tg-warden/warden/internal/events"
	"github.com/tg-warden/warden/internal/jobs"
	"github.com/tg-warden/warden/internal/logger"
	"github.com/tg-warden/warden/internal/moderation"
	"github.com/tg-warden/warden/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// detection engine, moderation orchestrator, bot, jobs), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	// The default handler is bound after the detection and moderation stacks
	// exist; they in turn need the bot instance for the transport adapter.
	var intake tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if intake != nil {
				intake(ctx, b, update)
			}
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	api := telegram.NewAPI(tg, log)

	cache := detection.NewCache(cfg.Detection.CacheSize, cfg.Detection.CacheTTL)
	visionCheck, err := vision.New(ctx, cfg.Gemini, api, log)
	if err != nil {
		log.Error("Failed to initialize vision check", "error", err)
		return 1
	}
	checks := []detection.Check{
		heuristic.NewStopPhraseCheck(cfg.Detection.StopPhrases),
		heuristic.NewEmojiFloodCheck(cfg.Detection.MaxEmoji),
		openai.New(cfg.OpenAI, cache, chatHistory{store}, cfg.Detection.MinMessageLength, log),
		visionCheck,
	}
	runner := detection.NewRunner(checks, cfg.Detection, log)

	jobService, err := jobs.NewService(cfg.Jobs, store, api, log)
	if err != nil {
		log.Error("Failed to create job service", "error", err)
		return 1
	}
	jobService.RegisterJob(jobs.RetrainJobName, func(jobCtx context.Context) error {
		// Training samples are consumed by an external trainer; keep the
		// sample tables analyzed so its reads stay fast.
		log.InfoContext(jobCtx, "Retraining kick: running database maintenance for the sample tables")
		return store.RunMaintenance(jobCtx)
	})

	dispatcher := events.NewDispatcher([]events.SideEffect{
		events.NewAuditHandler(store),
		events.NewNotificationHandler(api),
		events.NewTrainingHandler(store, jobService),
	}, cfg.Moderation.WarningThreshold, log)

	modService := moderation.NewService(api, store, dispatcher, jobService, cfg.Moderation, log)

	hDeps := handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Runner:     runner,
		Moderation: modService,
		Notifier:   api,
	}
	intake = handlers.NewMessageHandler(hDeps)

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, db, store, tg, jobService)

	log.Info("Starting bot...")
	runErr := app.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// chatHistory adapts the store to the prompt-context interface of the LLM
// spam check.
type chatHistory struct {
	store database.Store
}

func (h chatHistory) RecentChatMessages(ctx context.Context, chatID int64, limit int) ([]string, error) {
	msgs, err := h.store.GetRecentMessagesInChat(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		lines = append(lines, m.Content)
	}
	return lines, nil
}
