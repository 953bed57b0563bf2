package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/database"
)

type deleterStub struct {
	mu    sync.Mutex
	calls []int64
}

func (d *deleterStub) DeleteMessage(_ context.Context, chatID, _ int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, chatID)
	return nil
}

func (d *deleterStub) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type cleanupStoreStub struct {
	mu       sync.Mutex
	messages []database.Message
	deleted  []int64
}

func (s *cleanupStoreStub) GetRecentUserMessages(context.Context, int64, time.Time) ([]database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages, nil
}

func (s *cleanupStoreStub) DeleteMessageRecord(_ context.Context, _, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return nil
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		CleanupDelay:       10 * time.Millisecond,
		CleanupDedupWindow: time.Minute,
		RetrainDebounce:    time.Minute,
	}
}

func TestScheduleCleanupDedup(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testJobsConfig(), &cleanupStoreStub{}, &deleterStub{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })

	svc.ScheduleCleanup(7)
	svc.ScheduleCleanup(7)
	svc.ScheduleCleanup(7)

	assert.Equal(t, 1, svc.PendingCleanups(), "repeated triggers inside the dedup window collapse")

	svc.ScheduleCleanup(8)
	assert.Equal(t, 2, svc.PendingCleanups(), "distinct users do not share a dedup slot")
}

func TestCleanupSweepDeletesEverywhere(t *testing.T) {
	t.Parallel()

	store := &cleanupStoreStub{
		messages: []database.Message{
			{ChatID: 10, MessageID: 1, UserID: 7},
			{ChatID: 20, MessageID: 2, UserID: 7},
			{ChatID: 30, MessageID: 3, UserID: 7},
		},
	}
	deleter := &deleterStub{}

	svc, err := NewService(testJobsConfig(), store, deleter, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop() })

	svc.ScheduleCleanup(7)

	assert.Eventually(t, func() bool {
		return deleter.count() == 3 && svc.PendingCleanups() == 0
	}, 5*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2, 3}, store.deleted, "records follow the transport deletes")
}

func TestTriggerRetrainDebounce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	runs := 0

	svc, err := NewService(testJobsConfig(), &cleanupStoreStub{}, &deleterStub{}, nil)
	require.NoError(t, err)
	svc.RegisterJob(RetrainJobName, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	})
	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop() })

	for range [5]struct{}{} {
		svc.TriggerRetrain(context.Background())
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Hold briefly: the debounced triggers must not fire late.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs, "a burst of kicks runs the job once per debounce interval")
}

func TestTriggerNowUnknownJob(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testJobsConfig(), &cleanupStoreStub{}, &deleterStub{}, nil)
	require.NoError(t, err)

	assert.Error(t, svc.TriggerNow("no_such_job"))
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testJobsConfig(), &cleanupStoreStub{}, &deleterStub{}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "double start is rejected")
	require.NoError(t, svc.Stop())
	assert.NoError(t, svc.Stop(), "stopping a stopped service is a no-op")
}
