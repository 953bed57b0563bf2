package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "warden_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, nil)
}

func TestMessages(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, store.SaveMessage(ctx, nil))
		assert.Error(t, store.SaveMessage(ctx, &Message{ChatID: 1}), "user_id required")
		assert.Error(t, store.SaveMessage(ctx, &Message{ChatID: 1, UserID: 2}), "content or photo required")
	})

	t.Run("save and query", func(t *testing.T) {
		now := time.Now().UTC()
		for i, msg := range []*Message{
			{ChatID: 10, MessageID: 1, UserID: 7, Content: "one", Timestamp: now.Add(-3 * time.Minute)},
			{ChatID: 10, MessageID: 2, UserID: 7, Content: "two", Timestamp: now.Add(-2 * time.Minute)},
			{ChatID: 20, MessageID: 3, UserID: 7, PhotoFileID: "photo1", Timestamp: now.Add(-1 * time.Minute)},
			{ChatID: 10, MessageID: 4, UserID: 8, Content: "other user", Timestamp: now},
		} {
			require.NoError(t, store.SaveMessage(ctx, msg), "message %d", i)
			assert.NotZero(t, msg.ID)
		}

		inChat, err := store.GetRecentMessagesInChat(ctx, 10, 50)
		require.NoError(t, err)
		assert.Len(t, inChat, 3)
		assert.Equal(t, "other user", inChat[0].Content, "newest first")

		byUser, err := store.GetRecentUserMessages(ctx, 7, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, byUser, 3, "spans all chats")

		recent, err := store.GetRecentUserMessages(ctx, 7, now.Add(-90*time.Second))
		require.NoError(t, err)
		assert.Len(t, recent, 1, "since bound is honored")
	})

	t.Run("delete record", func(t *testing.T) {
		require.NoError(t, store.DeleteMessageRecord(ctx, 10, 1))
		require.NoError(t, store.DeleteMessageRecord(ctx, 10, 999), "deleting a missing record is not an error")

		inChat, err := store.GetRecentMessagesInChat(ctx, 10, 50)
		require.NoError(t, err)
		assert.Len(t, inChat, 2)
	})
}

func TestDetectionOutcomes(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	outcome := &DetectionOutcome{
		ChatID:         10,
		MessageID:      5,
		UserID:         7,
		NetConfidence:  88,
		Classification: "autoban",
	}
	checks := []DetectionCheckRow{
		{CheckName: "stop_phrase", Result: "spam", Confidence: 90, Details: "matched"},
		{CheckName: "openai_spam", Result: "spam", Confidence: 85, Details: "scam", Error: ""},
	}

	require.NoError(t, store.SaveDetectionOutcome(ctx, outcome, checks))
	assert.NotZero(t, outcome.ID)
	for _, check := range checks {
		assert.Equal(t, outcome.ID, check.OutcomeID, "check rows are linked to the outcome")
	}
}

func TestTrust(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	trusted, err := store.IsTrusted(ctx, 7)
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, store.GrantTrust(ctx, 7, "telegram_user:1000"))
	require.NoError(t, store.GrantTrust(ctx, 7, "telegram_user:1001"), "granting twice is a no-op")

	trusted, err = store.IsTrusted(ctx, 7)
	require.NoError(t, err)
	assert.True(t, trusted)

	removed, err := store.RevokeTrust(ctx, 7)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RevokeTrust(ctx, 7)
	require.NoError(t, err)
	assert.False(t, removed, "second revocation finds nothing to remove")
}

func TestWarnings(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for expected := 1; expected <= 3; expected++ {
		count, err := store.AddWarning(ctx, &Warning{UserID: 7, ChatID: 10, Reason: "flood", IssuedBy: "telegram_user:1000"})
		require.NoError(t, err)
		assert.Equal(t, expected, count, "running total after each warning")
	}

	count, err := store.CountWarnings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.ClearWarnings(ctx, 7))
	count, err = store.CountWarnings(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBans(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddBan(ctx, &Ban{UserID: 7, Reason: "spam", IssuedBy: "auto_detection"}))
	require.NoError(t, store.AddBan(ctx, &Ban{UserID: 7, Reason: "again", IssuedBy: "telegram_user:1000"}))

	affected, err := store.DeactivateBans(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	affected, err = store.DeactivateBans(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, affected, "already-inactive bans are not counted again")
}

func TestTrainingSamples(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.SaveTrainingLabel(ctx, &TrainingLabel{Label: "spam"}), "content required")
	require.NoError(t, store.SaveTrainingLabel(ctx, &TrainingLabel{
		Content: "free crypto", Label: "spam", LabeledBy: "auto_detection",
	}))

	assert.Error(t, store.SaveImageSample(ctx, &ImageSample{Label: "spam"}), "photo file id required")
	require.NoError(t, store.SaveImageSample(ctx, &ImageSample{
		PhotoFileID: "photo123", Label: "spam", LabeledBy: "telegram_user:1000",
	}))
}

func TestManagedChats(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertManagedChat(ctx, &ManagedChat{ChatID: 10, Title: "general"}))
	require.NoError(t, store.UpsertManagedChat(ctx, &ManagedChat{ChatID: 20, Title: "offtopic"}))
	require.NoError(t, store.UpsertManagedChat(ctx, &ManagedChat{ChatID: 10, Title: "general v2"}), "upsert refreshes the title")

	chats, err := store.ListManagedChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "general v2", chats[0].Title)

	assert.Error(t, store.UpsertManagedChat(ctx, &ManagedChat{}), "chat_id required")
}

func TestAuditAndMaintenance(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAuditEntry(ctx, &AuditEntry{
		Action: "ban", UserID: 7, Actor: "telegram_user:1000", Reason: "spam", Details: "chats_affected=2",
	}))
	require.NoError(t, store.RunMaintenance(ctx))
	require.NoError(t, store.Ping(ctx))
}
