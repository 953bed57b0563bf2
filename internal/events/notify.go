package events

import (
	"context"
	"fmt"
)

// Notifier delivers direct messages to users.
type Notifier interface {
	SendDM(ctx context.Context, userID int64, text string) error
}

// NotificationHandler DMs the affected user about moderation actions taken
// against or for them.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler creates the notification side effect.
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

func (h *NotificationHandler) Name() string { return "notification" }

func (h *NotificationHandler) Handle(ctx context.Context, event Event) error {
	text := messageFor(event)
	if text == "" {
		return nil
	}
	return h.notifier.SendDM(ctx, event.UserID, text)
}

func messageFor(event Event) string {
	switch event.Action {
	case ActionWarn:
		return fmt.Sprintf("You have received a warning (%d so far): %s", event.WarningCount, event.Reason)
	case ActionBan, ActionSpamBan, ActionCriticalViolation:
		return fmt.Sprintf("You have been banned: %s", event.Reason)
	case ActionTempBan:
		return fmt.Sprintf("You have been temporarily banned: %s", event.Reason)
	case ActionUnban:
		return "Your ban has been lifted."
	case ActionMalwareViolation:
		return fmt.Sprintf("Your message was removed for containing malware: %s", event.Reason)
	default:
		// Deletes, trust changes, restrictions and kicks are not DM-worthy.
		return ""
	}
}
