package database

import (
	"database/sql"
	"time"
)

// Message is one group message the bot has seen. Content may be empty for
// photo-only messages; PhotoFileID is empty for text-only messages.
type Message struct {
	ID          int64     `db:"id"`
	ChatID      int64     `db:"chat_id"`
	MessageID   int64     `db:"message_id"`
	UserID      int64     `db:"user_id"`
	UserName    string    `db:"user_name"`
	Content     string    `db:"content"`
	PhotoFileID string    `db:"photo_file_id"`
	Timestamp   time.Time `db:"timestamp"`
	CreatedAt   time.Time `db:"created_at"`
}

// DetectionOutcome is the persisted aggregate verdict for one message.
type DetectionOutcome struct {
	ID             int64     `db:"id"`
	ChatID         int64     `db:"chat_id"`
	MessageID      int64     `db:"message_id"`
	UserID         int64     `db:"user_id"`
	NetConfidence  int       `db:"net_confidence"`
	Classification string    `db:"classification"`
	CreatedAt      time.Time `db:"created_at"`
}

// DetectionCheckRow is one contributing check result of an outcome.
type DetectionCheckRow struct {
	ID         int64  `db:"id"`
	OutcomeID  int64  `db:"outcome_id"`
	CheckName  string `db:"check_name"`
	Result     string `db:"result"`
	Confidence int    `db:"confidence"`
	Details    string `db:"details"`
	Error      string `db:"error"`
}

// Warning is one recorded warning against a user.
type Warning struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	ChatID    int64     `db:"chat_id"`
	Reason    string    `db:"reason"`
	IssuedBy  string    `db:"issued_by"`
	CreatedAt time.Time `db:"created_at"`
}

// Ban is one ban record. ExpiresAt is set only for temporary bans.
type Ban struct {
	ID        int64        `db:"id"`
	UserID    int64        `db:"user_id"`
	Reason    string       `db:"reason"`
	IssuedBy  string       `db:"issued_by"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	Active    bool         `db:"active"`
	CreatedAt time.Time    `db:"created_at"`
}

// TrainingLabel is a text sample labeled spam or ham for the classifier.
type TrainingLabel struct {
	ID        int64     `db:"id"`
	Content   string    `db:"content"`
	Label     string    `db:"label"`
	LabeledBy string    `db:"labeled_by"`
	CreatedAt time.Time `db:"created_at"`
}

// ImageSample is a photo sample labeled for the vision classifier.
type ImageSample struct {
	ID          int64     `db:"id"`
	PhotoFileID string    `db:"photo_file_id"`
	Label       string    `db:"label"`
	LabeledBy   string    `db:"labeled_by"`
	CreatedAt   time.Time `db:"created_at"`
}

// AuditEntry is one row of the moderation audit trail.
type AuditEntry struct {
	ID        int64         `db:"id"`
	Action    string        `db:"action"`
	UserID    int64         `db:"user_id"`
	ChatID    sql.NullInt64 `db:"chat_id"`
	Actor     string        `db:"actor"`
	Reason    string        `db:"reason"`
	Details   string        `db:"details"`
	CreatedAt time.Time     `db:"created_at"`
}

// ManagedChat is a chat the bot moderates. Bans and cleanup sweeps span all
// managed chats.
type ManagedChat struct {
	ChatID    int64     `db:"chat_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}
