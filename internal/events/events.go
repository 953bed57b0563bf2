// Package events implements the moderation event dispatcher and its
// side-effect handlers (audit trail, notifications, ML training capture).
// Side effects are strictly best-effort: no failure here ever invalidates
// the moderation action that produced the event.
package events

import (
	"context"
	"io"
	"log/slog"
)

// Action identifies the moderation action an event describes.
type Action string

const (
	ActionBan                Action = "ban"
	ActionTempBan            Action = "temp_ban"
	ActionSyncBan            Action = "sync_ban"
	ActionUnban              Action = "unban"
	ActionWarn               Action = "warn"
	ActionTrust              Action = "trust"
	ActionUntrust            Action = "untrust"
	ActionDeleteMessage      Action = "delete_message"
	ActionRestrict           Action = "restrict"
	ActionRestorePermissions Action = "restore_permissions"
	ActionKick               Action = "kick"
	ActionMalwareViolation   Action = "malware_violation"
	ActionCriticalViolation  Action = "critical_violation"
	ActionSpamBan            Action = "spam_ban"
)

// Event is emitted once per successfully executed moderation intent. It
// carries everything side-effect handlers need so they never re-query the
// primary action's outcome.
type Event struct {
	Action    Action
	UserID    int64
	UserName  string
	ChatID    int64
	ChatTitle string
	Actor     string
	Reason    string

	MessageID   int64
	MessageText string
	PhotoFileID string

	MessageDeleted bool
	TrustRemoved   bool
	TrustRestored  bool
	ChatsAffected  int
	WarningCount   int

	// TrainingLabel is "spam" or "ham" when the event should produce
	// training samples, empty otherwise.
	TrainingLabel string
}

// FollowUp is the dispatcher's signal back to the orchestrator.
type FollowUp int

const (
	FollowUpNone FollowUp = iota
	FollowUpBan
)

// DispatchResult carries the dispatcher's follow-up signal.
type DispatchResult struct {
	FollowUp FollowUp
}

// SideEffect is one independent consumer of moderation events.
type SideEffect interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Dispatcher fans events out to side-effect handlers. Each handler's failure
// is caught and logged individually; one failing handler never prevents the
// others from running.
type Dispatcher struct {
	effects          []SideEffect
	warningThreshold int
	logger           *slog.Logger
}

// NewDispatcher creates a dispatcher. warningThreshold is the warning count
// at which a warn event escalates to an automatic ban.
func NewDispatcher(effects []SideEffect, warningThreshold int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		effects:          effects,
		warningThreshold: warningThreshold,
		logger:           logger.With("component", "event_dispatcher"),
	}
}

// Dispatch runs every side-effect handler for the event and computes the
// follow-up signal. It never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) DispatchResult {
	for _, effect := range d.effects {
		d.runEffect(ctx, effect, event)
	}

	result := DispatchResult{FollowUp: FollowUpNone}
	if event.Action == ActionWarn && d.warningThreshold > 0 && event.WarningCount >= d.warningThreshold {
		result.FollowUp = FollowUpBan
		d.logger.InfoContext(ctx, "Warning threshold reached, signaling ban follow-up",
			"user_id", event.UserID, "warning_count", event.WarningCount, "threshold", d.warningThreshold)
	}
	return result
}

func (d *Dispatcher) runEffect(ctx context.Context, effect SideEffect, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.ErrorContext(ctx, "Side-effect handler panicked",
				"handler", effect.Name(), "action", string(event.Action), "panic", rec)
		}
	}()

	if err := effect.Handle(ctx, event); err != nil {
		d.logger.ErrorContext(ctx, "Side-effect handler failed",
			"handler", effect.Name(), "action", string(event.Action),
			"user_id", event.UserID, "error", err)
	}
}
