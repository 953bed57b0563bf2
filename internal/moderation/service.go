package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/database"
	"github.com/tg-warden/warden/internal/events"
)

// EventDispatcher fans moderation events out to side effects and returns a
// follow-up signal. Implemented by events.Dispatcher.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event events.Event) events.DispatchResult
}

// CleanupScheduler schedules the delayed cross-chat sweep after a ban.
// Implemented by the jobs service; deduplication is its concern.
type CleanupScheduler interface {
	ScheduleCleanup(userID int64)
}

// Service is the moderation orchestrator: it routes each intent to exactly
// one action handler, applies the cross-handler business rules, enforces
// protected-account policy, and emits events. One invocation is a sequential
// pipeline over its own intent; invocations for different users run
// concurrently with no shared orchestrator state.
type Service struct {
	cfg        config.ModerationConfig
	dispatcher EventDispatcher
	cleanup    CleanupScheduler
	logger     *slog.Logger

	ban      *banHandler
	syncBan  *syncBanHandler
	unban    *unbanHandler
	warn     *warnHandler
	trust    *trustHandler
	untrust  *untrustHandler
	delete   *deleteMessageHandler
	restrict *restrictHandler
	restore  *restorePermissionsHandler
	kick     *kickHandler
	spamBan  *spamBanHandler
	malware  *malwareViolationHandler
	critical *criticalViolationHandler
}

// NewService wires the orchestrator and its handlers. cleanup may be nil to
// disable post-ban sweeps.
func NewService(
	api ChatAPI,
	store database.Store,
	dispatcher EventDispatcher,
	cleanup CleanupScheduler,
	cfg config.ModerationConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("component", "moderation")

	ban := &banHandler{api: api, store: store, logger: log}
	warn := &warnHandler{store: store}
	deleter := &deleteMessageHandler{api: api, store: store, logger: log}

	return &Service{
		cfg:        cfg,
		dispatcher: dispatcher,
		cleanup:    cleanup,
		logger:     log,
		ban:        ban,
		syncBan:    &syncBanHandler{api: api},
		unban:      &unbanHandler{api: api, store: store, logger: log},
		warn:       warn,
		trust:      &trustHandler{store: store},
		untrust:    &untrustHandler{store: store},
		delete:     deleter,
		restrict:   &restrictHandler{api: api},
		restore:    &restorePermissionsHandler{api: api},
		kick:       &kickHandler{api: api},
		spamBan:    &spamBanHandler{deleter: deleter, banner: ban},
		malware:    &malwareViolationHandler{deleter: deleter, warner: warn},
		critical:   &criticalViolationHandler{deleter: deleter, banner: ban},
	}
}

// precheck enforces the rules that run before any handler: a protected
// account is never a valid target, and every intent must carry a reason.
func (s *Service) precheck(intent Intent) (Result, bool) {
	if s.cfg.IsProtected(intent.User.ID) {
		s.logger.Warn("Refusing to moderate protected account",
			"user_id", intent.User.ID, "executor", intent.Executor.String())
		return protectedResult(), false
	}
	if intent.Reason == "" {
		return failure("moderation reason is required"), false
	}
	return Result{}, true
}

// BanUser bans the user in every managed chat. A ban always attempts exactly
// one trust revocation; that revocation's failure is recorded but does not
// flip the ban's success.
func (s *Service) BanUser(ctx context.Context, intent BanIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	banRes, err := s.ban.Handle(ctx, intent, time.Time{})
	if err != nil {
		return failure(err.Error())
	}

	trustRemoved := s.revokeTrustBestEffort(ctx, intent.Intent, banRes.ShouldRevokeTrust)

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:        events.ActionBan,
		UserID:        intent.User.ID,
		UserName:      intent.User.Name,
		Actor:         intent.Executor.String(),
		Reason:        intent.Reason,
		TrustRemoved:  trustRemoved,
		ChatsAffected: banRes.ChatsAffected,
	})

	s.scheduleCleanup(intent.User.ID)

	return Result{Success: true, ChatsAffected: banRes.ChatsAffected, TrustRemoved: trustRemoved}
}

// TempBanUser bans the user everywhere until the duration elapses. Trust is
// left intact: the account comes back.
func (s *Service) TempBanUser(ctx context.Context, intent TempBanIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	until := time.Now().Add(intent.Duration)
	banRes, err := s.ban.Handle(ctx, BanIntent{Intent: intent.Intent}, until)
	if err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:        events.ActionTempBan,
		UserID:        intent.User.ID,
		UserName:      intent.User.Name,
		Actor:         intent.Executor.String(),
		Reason:        intent.Reason,
		ChatsAffected: banRes.ChatsAffected,
	})

	s.scheduleCleanup(intent.User.ID)

	return Result{Success: true, ChatsAffected: banRes.ChatsAffected}
}

// SyncBanToChat propagates an existing ban into one chat that missed it.
func (s *Service) SyncBanToChat(ctx context.Context, intent SyncBanIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	if err := s.syncBan.Handle(ctx, intent); err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:        events.ActionSyncBan,
		UserID:        intent.User.ID,
		UserName:      intent.User.Name,
		ChatID:        intent.Chat.ID,
		ChatTitle:     intent.Chat.Title,
		Actor:         intent.Executor.String(),
		Reason:        intent.Reason,
		ChatsAffected: 1,
	})

	return Result{Success: true, ChatsAffected: 1}
}

// UnbanUser lifts the user's ban everywhere. With RestoreTrust set, a
// successful unban is followed by a trust grant, and the result reports
// whether that restoration succeeded.
func (s *Service) UnbanUser(ctx context.Context, intent UnbanIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	unbanRes, err := s.unban.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	trustRestored := false
	if intent.RestoreTrust {
		trustRes := s.TrustUser(ctx, TrustIntent{Intent: Intent{
			User:     intent.User,
			Executor: intent.Executor,
			Reason:   "trust restored after unban: " + intent.Reason,
		}})
		trustRestored = trustRes.Success
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:        events.ActionUnban,
		UserID:        intent.User.ID,
		UserName:      intent.User.Name,
		Actor:         intent.Executor.String(),
		Reason:        intent.Reason,
		TrustRestored: trustRestored,
		ChatsAffected: unbanRes.ChatsAffected,
	})

	return Result{Success: true, ChatsAffected: unbanRes.ChatsAffected, TrustRestored: trustRestored}
}

// WarnUser records a warning. When the dispatcher signals that the warning
// threshold was reached, the user is banned automatically with the AutoBan
// actor; that nested ban can never trigger another warn/ban cycle.
func (s *Service) WarnUser(ctx context.Context, intent WarnIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	warnRes, err := s.warn.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	dispatchRes := s.dispatcher.Dispatch(ctx, events.Event{
		Action:       events.ActionWarn,
		UserID:       intent.User.ID,
		UserName:     intent.User.Name,
		ChatID:       intent.Chat.ID,
		ChatTitle:    intent.Chat.Title,
		Actor:        intent.Executor.String(),
		Reason:       intent.Reason,
		WarningCount: warnRes.WarningCount,
	})

	result := Result{Success: true, WarningCount: warnRes.WarningCount}

	if dispatchRes.FollowUp == events.FollowUpBan {
		banRes := s.BanUser(ctx, BanIntent{Intent: Intent{
			User:     intent.User,
			Executor: AutoBanActor(),
			Reason:   fmt.Sprintf("automatic ban after %d warnings", warnRes.WarningCount),
		}})
		result.AutoBanTriggered = banRes.Success
		result.TrustRemoved = banRes.TrustRemoved
		result.ChatsAffected = banRes.ChatsAffected
		if !banRes.Success {
			s.logger.Error("Automatic follow-up ban failed",
				"user_id", intent.User.ID, "error", banRes.ErrorMessage)
		}
	}

	return result
}

// TrustUser adds the user to the trusted list.
func (s *Service) TrustUser(ctx context.Context, intent TrustIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	if err := s.trust.Handle(ctx, intent); err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:   events.ActionTrust,
		UserID:   intent.User.ID,
		UserName: intent.User.Name,
		Actor:    intent.Executor.String(),
		Reason:   intent.Reason,
	})

	return Result{Success: true, TrustRestored: true}
}

// UntrustUser removes the user from the trusted list.
func (s *Service) UntrustUser(ctx context.Context, intent UntrustIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	untrustRes, err := s.untrust.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:       events.ActionUntrust,
		UserID:       intent.User.ID,
		UserName:     intent.User.Name,
		Actor:        intent.Executor.String(),
		Reason:       intent.Reason,
		TrustRemoved: untrustRes.TrustRemoved,
	})

	return Result{Success: true, TrustRemoved: untrustRes.TrustRemoved}
}

// DeleteMessage removes one message. Deletion is lenient: a message that is
// already gone still yields Success=true with MessageDeleted=false.
func (s *Service) DeleteMessage(ctx context.Context, intent DeleteMessageIntent) Result {
	if intent.User.ID != 0 && s.cfg.IsProtected(intent.User.ID) {
		return protectedResult()
	}
	if intent.Reason == "" {
		return failure("moderation reason is required")
	}

	delRes, err := s.delete.Handle(ctx, intent.Chat, intent.MessageID)
	if err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:         events.ActionDeleteMessage,
		UserID:         intent.User.ID,
		UserName:       intent.User.Name,
		ChatID:         intent.Chat.ID,
		ChatTitle:      intent.Chat.Title,
		Actor:          intent.Executor.String(),
		Reason:         intent.Reason,
		MessageID:      intent.MessageID,
		MessageDeleted: delRes.Deleted,
	})

	return Result{Success: true, MessageDeleted: delRes.Deleted}
}

// RestrictUser mutes the user in one chat for the intent's duration.
func (s *Service) RestrictUser(ctx context.Context, intent RestrictIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	if _, err := s.restrict.Handle(ctx, intent); err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:    events.ActionRestrict,
		UserID:    intent.User.ID,
		UserName:  intent.User.Name,
		ChatID:    intent.Chat.ID,
		ChatTitle: intent.Chat.Title,
		Actor:     intent.Executor.String(),
		Reason:    intent.Reason,
	})

	return Result{Success: true, ChatsAffected: 1}
}

// RestoreUserPermissions lifts a restriction in one chat.
func (s *Service) RestoreUserPermissions(ctx context.Context, intent RestorePermissionsIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	if err := s.restore.Handle(ctx, intent); err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:    events.ActionRestorePermissions,
		UserID:    intent.User.ID,
		UserName:  intent.User.Name,
		ChatID:    intent.Chat.ID,
		ChatTitle: intent.Chat.Title,
		Actor:     intent.Executor.String(),
		Reason:    intent.Reason,
	})

	return Result{Success: true, ChatsAffected: 1}
}

// KickUserFromChat removes the user from one chat without a lasting ban.
func (s *Service) KickUserFromChat(ctx context.Context, intent KickIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	if err := s.kick.Handle(ctx, intent); err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:    events.ActionKick,
		UserID:    intent.User.ID,
		UserName:  intent.User.Name,
		ChatID:    intent.Chat.ID,
		ChatTitle: intent.Chat.Title,
		Actor:     intent.Executor.String(),
		Reason:    intent.Reason,
	})

	return Result{Success: true, ChatsAffected: 1}
}

// MarkAsSpamAndBan deletes the offending message and bans the user
// everywhere as one composite action. The single event it emits carries both
// deletion and trust flags plus the training payload.
func (s *Service) MarkAsSpamAndBan(ctx context.Context, intent SpamBanIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	spamRes, err := s.spamBan.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	trustRemoved := s.revokeTrustBestEffort(ctx, intent.Intent, true)

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:         events.ActionSpamBan,
		UserID:         intent.User.ID,
		UserName:       intent.User.Name,
		ChatID:         intent.Chat.ID,
		ChatTitle:      intent.Chat.Title,
		Actor:          intent.Executor.String(),
		Reason:         intent.Reason,
		MessageID:      intent.MessageID,
		MessageText:    intent.MessageText,
		PhotoFileID:    intent.PhotoFileID,
		MessageDeleted: spamRes.Deleted,
		TrustRemoved:   trustRemoved,
		ChatsAffected:  spamRes.ChatsAffected,
		TrainingLabel:  "spam",
	})

	s.scheduleCleanup(intent.User.ID)

	return Result{
		Success:        true,
		MessageDeleted: spamRes.Deleted,
		TrustRemoved:   trustRemoved,
		ChatsAffected:  spamRes.ChatsAffected,
	}
}

// HandleMalwareViolation deletes the message carrying the malicious file and
// warns the user.
func (s *Service) HandleMalwareViolation(ctx context.Context, intent MalwareViolationIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	vioRes, err := s.malware.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:         events.ActionMalwareViolation,
		UserID:         intent.User.ID,
		UserName:       intent.User.Name,
		ChatID:         intent.Chat.ID,
		ChatTitle:      intent.Chat.Title,
		Actor:          intent.Executor.String(),
		Reason:         intent.Reason,
		MessageID:      intent.MessageID,
		MessageText:    intent.MessageText,
		MessageDeleted: vioRes.Deleted,
		WarningCount:   vioRes.WarningCount,
		TrainingLabel:  "spam",
	})

	return Result{Success: true, MessageDeleted: vioRes.Deleted, WarningCount: vioRes.WarningCount}
}

// HandleCriticalViolation deletes the message and bans the user everywhere
// immediately.
func (s *Service) HandleCriticalViolation(ctx context.Context, intent CriticalViolationIntent) Result {
	if res, ok := s.precheck(intent.Intent); !ok {
		return res
	}

	vioRes, err := s.critical.Handle(ctx, intent)
	if err != nil {
		return failure(err.Error())
	}

	trustRemoved := s.revokeTrustBestEffort(ctx, intent.Intent, true)

	s.dispatcher.Dispatch(ctx, events.Event{
		Action:         events.ActionCriticalViolation,
		UserID:         intent.User.ID,
		UserName:       intent.User.Name,
		ChatID:         intent.Chat.ID,
		ChatTitle:      intent.Chat.Title,
		Actor:          intent.Executor.String(),
		Reason:         intent.Reason,
		MessageID:      intent.MessageID,
		MessageText:    intent.MessageText,
		PhotoFileID:    intent.PhotoFileID,
		MessageDeleted: vioRes.Deleted,
		TrustRemoved:   trustRemoved,
		ChatsAffected:  vioRes.ChatsAffected,
		TrainingLabel:  "spam",
	})

	s.scheduleCleanup(intent.User.ID)

	return Result{
		Success:        true,
		MessageDeleted: vioRes.Deleted,
		TrustRemoved:   trustRemoved,
		ChatsAffected:  vioRes.ChatsAffected,
	}
}

// revokeTrustBestEffort performs the single trust-revocation attempt every
// ban carries. Failure is logged, never propagated.
func (s *Service) revokeTrustBestEffort(ctx context.Context, intent Intent, should bool) bool {
	if !should {
		return false
	}
	untrustRes, err := s.untrust.Handle(ctx, UntrustIntent{Intent: intent})
	if err != nil {
		s.logger.WarnContext(ctx, "Trust revocation after ban failed",
			"user_id", intent.User.ID, "error", err)
		return false
	}
	return untrustRes.TrustRemoved
}

func (s *Service) scheduleCleanup(userID int64) {
	if s.cleanup != nil {
		s.cleanup.ScheduleCleanup(userID)
	}
}
