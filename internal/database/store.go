package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the data access operations used by the detection and
// moderation engines. All methods accept a context for cancellation.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessagesInChat retrieves the most recent 'limit' messages for a chat.
	GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error)

	// GetRecentUserMessages retrieves a user's messages across all chats since the given time.
	GetRecentUserMessages(ctx context.Context, userID int64, since time.Time) ([]Message, error)

	// DeleteMessageRecord removes the stored record of one chat message.
	DeleteMessageRecord(ctx context.Context, chatID, messageID int64) error

	// SaveDetectionOutcome persists an aggregate verdict and its contributing
	// check results in one transaction.
	SaveDetectionOutcome(ctx context.Context, outcome *DetectionOutcome, checks []DetectionCheckRow) error

	// IsTrusted reports whether the user is on the trusted list.
	IsTrusted(ctx context.Context, userID int64) (bool, error)

	// GrantTrust adds the user to the trusted list. Granting twice is a no-op.
	GrantTrust(ctx context.Context, userID int64, grantedBy string) error

	// RevokeTrust removes the user from the trusted list and reports whether
	// a trust record actually existed.
	RevokeTrust(ctx context.Context, userID int64) (bool, error)

	// AddWarning records a warning and returns the user's total warning count.
	AddWarning(ctx context.Context, warning *Warning) (int, error)

	// CountWarnings returns the user's total warning count.
	CountWarnings(ctx context.Context, userID int64) (int, error)

	// ClearWarnings removes all warnings for the user.
	ClearWarnings(ctx context.Context, userID int64) error

	// AddBan records a ban.
	AddBan(ctx context.Context, ban *Ban) error

	// DeactivateBans marks all of the user's active bans inactive and returns
	// how many were affected.
	DeactivateBans(ctx context.Context, userID int64) (int64, error)

	// SaveTrainingLabel records a labeled text sample.
	SaveTrainingLabel(ctx context.Context, label *TrainingLabel) error

	// SaveImageSample records a labeled photo sample.
	SaveImageSample(ctx context.Context, sample *ImageSample) error

	// SaveAuditEntry appends one audit trail row.
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error

	// UpsertManagedChat registers or refreshes a chat the bot moderates.
	UpsertManagedChat(ctx context.Context, chat *ManagedChat) error

	// ListManagedChats returns every chat the bot moderates.
	ListManagedChats(ctx context.Context) ([]ManagedChat, error)

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore implements Store using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by sqlx. It requires a connected sqlx.DB
// and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChatID == 0 || message.UserID == 0 {
		return fmt.Errorf("message must have non-zero chat_id and user_id")
	}
	if message.Content == "" && message.PhotoFileID == "" {
		return fmt.Errorf("message must have text content or a photo")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (chat_id, message_id, user_id, user_name, content, photo_file_id, timestamp, created_at)
        VALUES (:chat_id, :message_id, :user_id, :user_name, :content, :photo_file_id, :timestamp, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to save message (chat %d, user %d): %w", message.ChatID, message.UserID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		message.ID = id
	}
	return nil
}

func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}

	var messages []Message
	query := `
        SELECT id, chat_id, message_id, user_id, user_name, content, photo_file_id, timestamp, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent messages (chat %d): %w", chatID, err)
	}
	return messages, nil
}

func (s *sqlxStore) GetRecentUserMessages(ctx context.Context, userID int64, since time.Time) ([]Message, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}

	var messages []Message
	query := `
        SELECT id, chat_id, message_id, user_id, user_name, content, photo_file_id, timestamp, created_at
        FROM messages
        WHERE user_id = ? AND timestamp >= ?
        ORDER BY timestamp DESC;
    `
	if err := s.db.SelectContext(ctx, &messages, query, userID, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to get recent messages for user %d: %w", userID, err)
	}
	return messages, nil
}

func (s *sqlxStore) DeleteMessageRecord(ctx context.Context, chatID, messageID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND message_id = ?;`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message record (chat %d, message %d): %w", chatID, messageID, err)
	}
	return nil
}

func (s *sqlxStore) SaveDetectionOutcome(ctx context.Context, outcome *DetectionOutcome, checks []DetectionCheckRow) error {
	if outcome == nil {
		return fmt.Errorf("cannot save nil detection outcome")
	}
	outcome.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	result, err := tx.NamedExecContext(ctx, `
        INSERT INTO detection_outcomes (chat_id, message_id, user_id, net_confidence, classification, created_at)
        VALUES (:chat_id, :message_id, :user_id, :net_confidence, :classification, :created_at);
    `, outcome)
	if err != nil {
		return fmt.Errorf("failed to save detection outcome: %w", err)
	}
	outcomeID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get outcome id: %w", err)
	}
	outcome.ID = outcomeID

	for i := range checks {
		checks[i].OutcomeID = outcomeID
		if _, err := tx.NamedExecContext(ctx, `
            INSERT INTO detection_checks (outcome_id, check_name, result, confidence, details, error)
            VALUES (:outcome_id, :check_name, :result, :confidence, :details, :error);
        `, &checks[i]); err != nil {
			return fmt.Errorf("failed to save detection check %q: %w", checks[i].CheckName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return nil
}

func (s *sqlxStore) IsTrusted(ctx context.Context, userID int64) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM trusted_users WHERE user_id = ?;`, userID); err != nil {
		return false, fmt.Errorf("failed to check trust for user %d: %w", userID, err)
	}
	return count > 0, nil
}

func (s *sqlxStore) GrantTrust(ctx context.Context, userID int64, grantedBy string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO trusted_users (user_id, granted_by, created_at)
        VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET granted_by = excluded.granted_by;
    `, userID, grantedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant trust to user %d: %w", userID, err)
	}
	return nil
}

func (s *sqlxStore) RevokeTrust(ctx context.Context, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM trusted_users WHERE user_id = ?;`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke trust for user %d: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

func (s *sqlxStore) AddWarning(ctx context.Context, warning *Warning) (int, error) {
	if warning == nil {
		return 0, fmt.Errorf("cannot save nil warning")
	}
	warning.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO warnings (user_id, chat_id, reason, issued_by, created_at)
        VALUES (:user_id, :chat_id, :reason, :issued_by, :created_at);
    `, warning); err != nil {
		return 0, fmt.Errorf("failed to save warning for user %d: %w", warning.UserID, err)
	}

	return s.CountWarnings(ctx, warning.UserID)
}

func (s *sqlxStore) CountWarnings(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM warnings WHERE user_id = ?;`, userID); err != nil {
		return 0, fmt.Errorf("failed to count warnings for user %d: %w", userID, err)
	}
	return count, nil
}

func (s *sqlxStore) ClearWarnings(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE user_id = ?;`, userID); err != nil {
		return fmt.Errorf("failed to clear warnings for user %d: %w", userID, err)
	}
	return nil
}

func (s *sqlxStore) AddBan(ctx context.Context, ban *Ban) error {
	if ban == nil {
		return fmt.Errorf("cannot save nil ban")
	}
	ban.Active = true
	ban.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO bans (user_id, reason, issued_by, expires_at, active, created_at)
        VALUES (:user_id, :reason, :issued_by, :expires_at, :active, :created_at);
    `, ban); err != nil {
		return fmt.Errorf("failed to save ban for user %d: %w", ban.UserID, err)
	}
	return nil
}

func (s *sqlxStore) DeactivateBans(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE bans SET active = 0 WHERE user_id = ? AND active = 1;`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate bans for user %d: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func (s *sqlxStore) SaveTrainingLabel(ctx context.Context, label *TrainingLabel) error {
	if label == nil {
		return fmt.Errorf("cannot save nil training label")
	}
	if label.Content == "" {
		return fmt.Errorf("training label must have non-empty content")
	}
	label.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO training_labels (content, label, labeled_by, created_at)
        VALUES (:content, :label, :labeled_by, :created_at);
    `, label); err != nil {
		return fmt.Errorf("failed to save training label: %w", err)
	}
	return nil
}

func (s *sqlxStore) SaveImageSample(ctx context.Context, sample *ImageSample) error {
	if sample == nil {
		return fmt.Errorf("cannot save nil image sample")
	}
	if sample.PhotoFileID == "" {
		return fmt.Errorf("image sample must have a photo file id")
	}
	sample.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO image_samples (photo_file_id, label, labeled_by, created_at)
        VALUES (:photo_file_id, :label, :labeled_by, :created_at);
    `, sample); err != nil {
		return fmt.Errorf("failed to save image sample: %w", err)
	}
	return nil
}

func (s *sqlxStore) SaveAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil audit entry")
	}
	entry.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO audit_log (action, user_id, chat_id, actor, reason, details, created_at)
        VALUES (:action, :user_id, :chat_id, :actor, :reason, :details, :created_at);
    `, entry); err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

func (s *sqlxStore) UpsertManagedChat(ctx context.Context, chat *ManagedChat) error {
	if chat == nil || chat.ChatID == 0 {
		return fmt.Errorf("managed chat must have a non-zero chat_id")
	}
	chat.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
        INSERT INTO managed_chats (chat_id, title, created_at)
        VALUES (:chat_id, :title, :created_at)
        ON CONFLICT (chat_id) DO UPDATE SET title = excluded.title;
    `, chat); err != nil {
		return fmt.Errorf("failed to upsert managed chat %d: %w", chat.ChatID, err)
	}
	return nil
}

func (s *sqlxStore) ListManagedChats(ctx context.Context) ([]ManagedChat, error) {
	var chats []ManagedChat
	if err := s.db.SelectContext(ctx, &chats, `SELECT chat_id, title, created_at FROM managed_chats ORDER BY chat_id;`); err != nil {
		return nil, fmt.Errorf("failed to list managed chats: %w", err)
	}
	return chats, nil
}

func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE;`); err != nil {
		return fmt.Errorf("failed to run ANALYZE: %w", err)
	}
	return nil
}
