// Package moderation implements the moderation orchestration engine: a
// closed set of moderation intents, one action handler per intent, and the
// orchestrator that composes handlers with cross-cutting business rules.
package moderation

import (
	"fmt"
	"time"
)

// ActorKind enumerates who can cause a moderation action.
type ActorKind string

const (
	ActorWebUser       ActorKind = "web_user"
	ActorTelegramUser  ActorKind = "telegram_user"
	ActorAutoDetection ActorKind = "auto_detection"
	ActorAutoBan       ActorKind = "auto_ban"
	ActorSystem        ActorKind = "system"
)

// Actor identifies the originator of a moderation action. It is immutable
// and carried through the whole call chain so audit rows never re-fetch it.
type Actor struct {
	Kind ActorKind
	ID   int64
}

// WebUser is an admin acting through the web panel.
func WebUser(id int64) Actor { return Actor{Kind: ActorWebUser, ID: id} }

// TelegramUser is an admin acting through a bot command.
func TelegramUser(id int64) Actor { return Actor{Kind: ActorTelegramUser, ID: id} }

// AutoDetection is the detection engine acting on a classification.
func AutoDetection() Actor { return Actor{Kind: ActorAutoDetection} }

// AutoBanActor is the warning-escalation rule acting on its own.
func AutoBanActor() Actor { return Actor{Kind: ActorAutoBan} }

// System is internal housekeeping (cleanup sweeps, expiry).
func System() Actor { return Actor{Kind: ActorSystem} }

func (a Actor) String() string {
	if a.ID != 0 {
		return fmt.Sprintf("%s:%d", a.Kind, a.ID)
	}
	return string(a.Kind)
}

// UserRef is a minimal user identity carried through the pipeline instead of
// re-querying storage.
type UserRef struct {
	ID   int64
	Name string
}

// ChatRef is a minimal chat identity.
type ChatRef struct {
	ID    int64
	Title string
}

// Intent is the base every moderation request carries: the target user, the
// actor executing the request, and a non-empty reason for the audit trail.
// Intents are built once at the call site, passed by value, and discarded.
type Intent struct {
	User     UserRef
	Executor Actor
	Reason   string
}

// BanIntent bans the user in every managed chat.
type BanIntent struct {
	Intent
}

// SyncBanIntent propagates an existing ban into one specific chat.
type SyncBanIntent struct {
	Intent
	Chat ChatRef
}

// TempBanIntent bans the user everywhere for a limited duration.
type TempBanIntent struct {
	Intent
	Duration time.Duration
}

// UnbanIntent lifts a ban; RestoreTrust additionally re-grants trust.
type UnbanIntent struct {
	Intent
	RestoreTrust bool
}

// WarnIntent records a warning against the user.
type WarnIntent struct {
	Intent
	Chat ChatRef
}

// TrustIntent adds the user to the trusted list (skips detection).
type TrustIntent struct {
	Intent
}

// UntrustIntent removes the user from the trusted list.
type UntrustIntent struct {
	Intent
}

// DeleteMessageIntent removes one message from one chat.
type DeleteMessageIntent struct {
	Intent
	Chat      ChatRef
	MessageID int64
}

// RestrictIntent mutes the user in one chat for a duration.
type RestrictIntent struct {
	Intent
	Chat     ChatRef
	Duration time.Duration
}

// RestorePermissionsIntent lifts a restriction in one chat.
type RestorePermissionsIntent struct {
	Intent
	Chat ChatRef
}

// KickIntent removes the user from one chat without a lasting ban.
type KickIntent struct {
	Intent
	Chat ChatRef
}

// MalwareViolationIntent handles a message carrying a malicious file:
// delete the message and warn the user.
type MalwareViolationIntent struct {
	Intent
	Chat        ChatRef
	MessageID   int64
	MessageText string
	FileName    string
}

// CriticalViolationIntent handles content warranting an immediate ban:
// delete the message and ban everywhere.
type CriticalViolationIntent struct {
	Intent
	Chat          ChatRef
	MessageID     int64
	MessageText   string
	PhotoFileID   string
	ViolationType string
}

// SpamBanIntent is the composite mark-as-spam action: delete the message and
// ban the user everywhere, feeding the message into training data.
type SpamBanIntent struct {
	Intent
	Chat        ChatRef
	MessageID   int64
	MessageText string
	PhotoFileID string
}

// Result is the one shape every orchestration operation returns. Fields
// irrelevant to a given intent stay at their zero value.
type Result struct {
	Success      bool
	ErrorMessage string

	MessageDeleted   bool
	TrustRemoved     bool
	TrustRestored    bool
	ChatsAffected    int
	WarningCount     int
	AutoBanTriggered bool
}

// ProtectedAccountError is returned verbatim when the target is a protected
// system/service account.
const ProtectedAccountError = "protected account cannot be moderated"

func failure(msg string) Result {
	return Result{Success: false, ErrorMessage: msg}
}

func protectedResult() Result {
	return failure(ProtectedAccountError)
}
