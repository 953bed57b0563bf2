// Package jobs implements background-job scheduling for Warden on top of
// gocron: named jobs triggerable on demand, the delayed deduplicated
// cross-chat cleanup sweep, and the debounced ML retraining kick.
package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/database"
)

// RetrainJobName is the registered name of the ML retraining job.
const RetrainJobName = "ml_retrain"

// cleanupLookback bounds how far back the cross-chat sweep reaches.
const cleanupLookback = 24 * time.Hour

// JobFunc is the signature of every registered job. The context provided by
// the scheduler must be respected for cancellation.
type JobFunc func(ctx context.Context) error

// MessageDeleter is the slice of the transport the cleanup sweep needs.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// CleanupStore is the slice of the store the cleanup sweep needs.
type CleanupStore interface {
	GetRecentUserMessages(ctx context.Context, userID int64, since time.Time) ([]database.Message, error)
	DeleteMessageRecord(ctx context.Context, chatID, messageID int64) error
}

// Service schedules and triggers background jobs.
type Service struct {
	scheduler gocron.Scheduler
	cfg       config.JobsConfig
	store     CleanupStore
	api       MessageDeleter
	logger    *slog.Logger

	mu             sync.Mutex
	jobs           map[string]JobFunc
	pendingCleanup map[int64]time.Time
	lastRetrain    time.Time
	running        bool
}

// NewService creates the job service. Jobs are registered with RegisterJob
// before Start.
func NewService(cfg config.JobsConfig, store CleanupStore, api MessageDeleter, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Service{
		scheduler:      s,
		cfg:            cfg,
		store:          store,
		api:            api,
		logger:         logger.With("component", "jobs"),
		jobs:           make(map[string]JobFunc),
		pendingCleanup: make(map[int64]time.Time),
	}, nil
}

// RegisterJob registers a named job that TriggerNow can invoke.
func (s *Service) RegisterJob(name string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = fn
}

// Start begins the scheduler's internal ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job service is already running")
	}
	s.scheduler.Start()
	s.running = true
	s.logger.Info("Job service started", "registered_jobs", len(s.jobs))
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("Error during job service shutdown", "error", err)
		return err
	}
	s.logger.Info("Job service stopped")
	return nil
}

// TriggerNow schedules an immediate one-shot run of the named job.
func (s *Service) TriggerNow(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.scheduleOneShot(name, time.Now(), fn)
}

// ScheduleCleanup schedules the delayed cross-chat sweep for a banned user.
// The delay lets a spam burst finish posting across chats before the sweep
// runs; repeated triggers for the same user inside the dedup window collapse
// into one job.
func (s *Service) ScheduleCleanup(userID int64) {
	now := time.Now()

	s.mu.Lock()
	if scheduledAt, ok := s.pendingCleanup[userID]; ok && now.Sub(scheduledAt) < s.cfg.CleanupDedupWindow {
		s.mu.Unlock()
		s.logger.Debug("Cleanup already scheduled within dedup window", "user_id", userID)
		return
	}
	s.pendingCleanup[userID] = now
	s.mu.Unlock()

	name := fmt.Sprintf("cleanup_user_%d", userID)
	err := s.scheduleOneShot(name, now.Add(s.cfg.CleanupDelay), func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			delete(s.pendingCleanup, userID)
			s.mu.Unlock()
		}()
		return s.cleanupUser(ctx, userID)
	})
	if err != nil {
		s.logger.Error("Failed to schedule cleanup sweep", "user_id", userID, "error", err)
		s.mu.Lock()
		delete(s.pendingCleanup, userID)
		s.mu.Unlock()
		return
	}

	s.logger.Info("Scheduled cross-chat cleanup sweep",
		"user_id", userID, "delay", s.cfg.CleanupDelay)
}

// TriggerRetrain kicks the ML retraining job, debounced so a burst of
// training samples causes at most one retrain per debounce interval.
func (s *Service) TriggerRetrain(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	if now.Sub(s.lastRetrain) < s.cfg.RetrainDebounce {
		s.mu.Unlock()
		return
	}
	s.lastRetrain = now
	s.mu.Unlock()

	if err := s.TriggerNow(RetrainJobName); err != nil {
		s.logger.WarnContext(ctx, "Failed to trigger retraining job", "error", err)
	}
}

// PendingCleanups reports how many cleanup sweeps are currently scheduled.
func (s *Service) PendingCleanups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingCleanup)
}

func (s *Service) scheduleOneShot(name string, at time.Time, fn JobFunc) error {
	_, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(func(ctx context.Context) {
			start := time.Now()
			if err := fn(ctx); err != nil {
				s.logger.Error("Job failed", "job", name, "error", err, "duration", time.Since(start))
				return
			}
			s.logger.Debug("Job finished", "job", name, "duration", time.Since(start))
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	return nil
}

// cleanupUser deletes the banned user's recent messages in every chat they
// posted to before the ban propagated.
func (s *Service) cleanupUser(ctx context.Context, userID int64) error {
	messages, err := s.store.GetRecentUserMessages(ctx, userID, time.Now().Add(-cleanupLookback))
	if err != nil {
		return fmt.Errorf("failed to load messages for cleanup of user %d: %w", userID, err)
	}

	deleted := 0
	for _, msg := range messages {
		if err := s.api.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
			s.logger.Debug("Cleanup delete failed, message may already be gone",
				"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		} else {
			deleted++
		}
		if err := s.store.DeleteMessageRecord(ctx, msg.ChatID, msg.MessageID); err != nil {
			s.logger.Warn("Failed to delete message record during cleanup",
				"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		}
	}

	s.logger.Info("Cross-chat cleanup sweep finished",
		"user_id", userID, "messages_seen", len(messages), "messages_deleted", deleted)
	return nil
}
