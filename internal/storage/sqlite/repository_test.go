package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func enqueueItem(t *testing.T, repo *Repository, videoID string, priority int, scheduledAt time.Time) *models.QueueItem {
	t.Helper()
	item := &models.QueueItem{
		VideoID:      videoID,
		VideoTitle:   "title " + videoID,
		ChannelName:  "test channel",
		Priority:     priority,
		Status:       models.StatusQueued,
		ScheduledAt:  scheduledAt,
		DiscoveredAt: scheduledAt,
		MaxAttempts:  3,
	}
	if err := repo.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("failed to enqueue %s: %v", videoID, err)
	}
	return item
}

func TestEnqueueDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueueItem(t, repo, "v1", 2, now)

	dup := &models.QueueItem{
		VideoID:     "v1",
		Priority:    1,
		Status:      models.StatusQueued,
		ScheduledAt: now,
		MaxAttempts: 3,
	}
	if err := repo.Enqueue(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	queued, err := repo.CountByStatus(ctx, models.StatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Fatalf("expected 1 queued item, got %d", queued)
	}
}

func TestDequeueOrderIsTotal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// Priorities [3,1,5,1], equal scheduled_at. The earliest-enqueued of the
	// two priority-1 items must dequeue first.
	enqueueItem(t, repo, "p3", 3, now)
	enqueueItem(t, repo, "p1-first", 1, now)
	enqueueItem(t, repo, "p5", 5, now)
	enqueueItem(t, repo, "p1-second", 1, now)

	want := []string{"p1-first", "p1-second", "p3", "p5"}
	for i, videoID := range want {
		item, err := repo.ClaimNext(ctx, now.Add(time.Second))
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if item.VideoID != videoID {
			t.Fatalf("claim %d: expected %s, got %s", i, videoID, item.VideoID)
		}
	}

	if _, err := repo.ClaimNext(ctx, now.Add(time.Second)); !errors.Is(err, storage.ErrNoEligibleItem) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestClaimSetsProcessingState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueueItem(t, repo, "v1", 2, now)

	item, err := repo.ClaimNext(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.StatusProcessing {
		t.Fatalf("expected processing, got %s", item.Status)
	}
	if item.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", item.AttemptCount)
	}
	if item.ProcessingStartedAt == nil {
		t.Fatal("expected processing_started_at to be set")
	}

	// The claimed item is no longer claimable
	if _, err := repo.ClaimNext(ctx, now); !errors.Is(err, storage.ErrNoEligibleItem) {
		t.Fatalf("expected no eligible item, got %v", err)
	}
}

func TestClaimIgnoresFutureScheduledAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueueItem(t, repo, "later", 1, now.Add(time.Hour))

	if _, err := repo.ClaimNext(ctx, now); !errors.Is(err, storage.ErrNoEligibleItem) {
		t.Fatalf("future-dated item must not be claimable, got %v", err)
	}
	if _, err := repo.ClaimNext(ctx, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("item should be claimable once due: %v", err)
	}
}

func TestPrioritizeMovesToFront(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueueItem(t, repo, "urgent", 1, now)
	slow := enqueueItem(t, repo, "slow", 5, now)

	promoted, err := repo.Prioritize(ctx, slow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if promoted.Priority >= 1 {
		t.Fatalf("expected priority below the queue minimum, got %d", promoted.Priority)
	}

	first, err := repo.ClaimNext(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if first.VideoID != "slow" {
		t.Fatalf("prioritized item must dequeue first, got %s", first.VideoID)
	}
}

func TestPrioritizeRepeatedCallsStayOrdered(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := enqueueItem(t, repo, "a", 3, now)
	b := enqueueItem(t, repo, "b", 3, now)
	enqueueItem(t, repo, "c", 1, now)

	// Prioritize a, then b: b must now come before a, and both before c.
	if _, err := repo.Prioritize(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Prioritize(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{"b", "a", "c"}
	for i, videoID := range want {
		item, err := repo.ClaimNext(ctx, now)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if item.VideoID != videoID {
			t.Fatalf("claim %d: expected %s, got %s", i, videoID, item.VideoID)
		}
	}
}

func TestPrioritizeInvalidState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Prioritize(ctx, item.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for processing item, got %v", err)
	}
}

func TestSkipGuardsAndIdempotence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := enqueueItem(t, repo, "v1", 2, now)

	skipped, err := repo.Skip(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if skipped.Status != models.StatusSkipped {
		t.Fatalf("expected skipped, got %s", skipped.Status)
	}

	// Skipping an already-skipped item is a successful no-op
	again, err := repo.Skip(ctx, item.ID)
	if err != nil {
		t.Fatalf("skip must be idempotent: %v", err)
	}
	if again.Status != models.StatusSkipped {
		t.Fatalf("expected skipped, got %s", again.Status)
	}
}

func TestSkipProcessingItemRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Skip(ctx, item.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// Item unchanged
	got, err := repo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusProcessing {
		t.Fatalf("failed skip must leave item unchanged, got %s", got.Status)
	}
}

func TestRemoveGuards(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	// A worker holds the item; remove is rejected
	if err := repo.Remove(ctx, item.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// Complete it, then remove succeeds and it leaves history
	result := &models.ExtractionResult{VideoID: "v1", Transcript: "t"}
	if _, err := repo.Complete(ctx, item.ID, result, now); err != nil {
		t.Fatal(err)
	}
	if err := repo.Remove(ctx, item.ID); err != nil {
		t.Fatal(err)
	}

	history, total, err := repo.ListHistory(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(history) != 0 {
		t.Fatalf("removed item must not appear in history, got %d items", len(history))
	}

	if err := repo.Remove(ctx, item.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestCompleteRecordsResult(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queued := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	result := &models.ExtractionResult{
		VideoID:      "v1",
		EpisodeTitle: "Best tacos in town",
		Transcript:   "we went to ...",
		Restaurants: models.RestaurantSlice{
			{Name: "Taqueria Uno", Location: "Austin"},
			{Name: "El Segundo"},
		},
	}
	done, err := repo.Complete(ctx, queued.ID, result, now)
	if err != nil {
		t.Fatal(err)
	}

	if done.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.RestaurantsFound != 2 {
		t.Fatalf("expected 2 restaurants, got %d", done.RestaurantsFound)
	}
	if done.ProcessingCompletedAt == nil {
		t.Fatal("expected processing_completed_at to be set")
	}
	if done.Result == nil || done.Result.EpisodeTitle != "Best tacos in town" {
		t.Fatalf("expected preloaded result, got %+v", done.Result)
	}

	// Completing again must not double-apply
	if _, err := repo.Complete(ctx, queued.ID, result, now); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("second complete must fail with ErrInvalidState, got %v", err)
	}
}

func TestFailRetrySchedulesBackoffAndLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	queued := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	retryAt := now.Add(2 * time.Minute)
	item, err := repo.FailRetry(ctx, queued.ID, "transcript service down", retryAt, now)
	if err != nil {
		t.Fatal(err)
	}

	if item.Status != models.StatusQueued {
		t.Fatalf("expected queued, got %s", item.Status)
	}
	if !item.ScheduledAt.Equal(retryAt) {
		t.Fatalf("expected scheduled_at %v, got %v", retryAt, item.ScheduledAt)
	}
	if item.ErrorMessage != "transcript service down" {
		t.Fatalf("unexpected error_message %q", item.ErrorMessage)
	}
	if len(item.ErrorLog) != 1 || item.ErrorLog[0].Attempt != 1 {
		t.Fatalf("expected one log entry for attempt 1, got %+v", item.ErrorLog)
	}

	// Applying the outcome twice must be rejected
	if _, err := repo.FailRetry(ctx, queued.ID, "again", retryAt, now); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double apply, got %v", err)
	}
}

func TestErrorLogIsAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queued := enqueueItem(t, repo, "v1", 2, now)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := repo.ClaimNext(ctx, now.Add(time.Duration(attempt)*time.Hour))
		if err != nil {
			t.Fatalf("attempt %d claim: %v", attempt, err)
		}
		if claimed.AttemptCount != attempt {
			t.Fatalf("expected attempt_count %d, got %d", attempt, claimed.AttemptCount)
		}
		if attempt < 3 {
			if _, err := repo.FailRetry(ctx, queued.ID, "boom", now.Add(time.Duration(attempt)*time.Hour), now); err != nil {
				t.Fatal(err)
			}
		} else {
			if _, err := repo.FailTerminal(ctx, queued.ID, "boom final", now); err != nil {
				t.Fatal(err)
			}
		}
	}

	item, err := repo.GetItem(ctx, queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", item.Status)
	}
	if item.AttemptCount != 3 {
		t.Fatalf("attempt_count must not exceed max_attempts, got %d", item.AttemptCount)
	}
	if len(item.ErrorLog) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(item.ErrorLog))
	}
	for i, entry := range item.ErrorLog {
		if entry.Attempt != i+1 {
			t.Fatalf("log entry %d has attempt %d", i, entry.Attempt)
		}
	}
}

func TestRetryResetsFailedItem(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queued := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.FailTerminal(ctx, queued.ID, "dead", now); err != nil {
		t.Fatal(err)
	}

	item, err := repo.Retry(ctx, queued.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.StatusQueued {
		t.Fatalf("expected queued, got %s", item.Status)
	}
	// History preserved: the attempt count survives, plus the manual-retry entry
	if item.AttemptCount != 1 {
		t.Fatalf("retry must not reset attempt_count, got %d", item.AttemptCount)
	}
	if len(item.ErrorLog) != 2 {
		t.Fatalf("expected failure + manual retry log entries, got %d", len(item.ErrorLog))
	}

	// Retry on a queued item is illegal
	if _, err := repo.Retry(ctx, queued.ID, now); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestRequeueAbandoned(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queued := enqueueItem(t, repo, "v1", 2, now)
	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart while the item was processing
	recovered, err := repo.RequeueAbandoned(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered item, got %d", recovered)
	}

	item, err := repo.GetItem(ctx, queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.StatusQueued {
		t.Fatalf("expected queued, got %s", item.Status)
	}
	// The interrupted attempt stays counted, exactly once
	if item.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", item.AttemptCount)
	}
	if item.ProcessingStartedAt != nil {
		t.Fatal("expected processing_started_at cleared")
	}

	// Idempotent when nothing is processing
	recovered, err = repo.RequeueAbandoned(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != 0 {
		t.Fatalf("expected 0 recovered on second pass, got %d", recovered)
	}
}

func TestListQueueAndHistorySplit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueueItem(t, repo, "pending", 2, now)
	doneItem := enqueueItem(t, repo, "done", 1, now)

	if _, err := repo.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Complete(ctx, doneItem.ID, &models.ExtractionResult{VideoID: "done"}, now); err != nil {
		t.Fatal(err)
	}

	queue, total, err := repo.ListQueue(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(queue) != 1 || queue[0].VideoID != "pending" {
		t.Fatalf("unexpected queue listing: total=%d items=%v", total, queue)
	}

	history, total, err := repo.ListHistory(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(history) != 1 || history[0].VideoID != "done" {
		t.Fatalf("unexpected history listing: total=%d", total)
	}
}

func TestSubscriptionScheduling(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sub := &models.Subscription{
		ChannelID:          "UC123",
		ChannelName:        "Food Show",
		Priority:           2,
		CheckIntervalHours: 24,
		IsActive:           true,
	}
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// Never-checked subscriptions are due
	due, err := repo.DueSubscriptions(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due subscription, got %d", len(due))
	}

	if err := repo.MarkChecked(ctx, sub.ID, now); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(now) {
		t.Fatalf("expected last_checked_at %v, got %v", now, got.LastCheckedAt)
	}
	wantNext := now.Add(24 * time.Hour)
	if got.NextCheckAt == nil || !got.NextCheckAt.Equal(wantNext) {
		t.Fatalf("expected next_check_at %v, got %v", wantNext, got.NextCheckAt)
	}

	// No longer due
	due, err = repo.DueSubscriptions(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due subscriptions, got %d", len(due))
	}

	// Paused subscriptions are never due
	if _, err := repo.SetSubscriptionActive(ctx, sub.ID, false); err != nil {
		t.Fatal(err)
	}
	due, err = repo.DueSubscriptions(ctx, now.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("paused subscription must not be due, got %d", len(due))
	}
}

func TestDeleteSubscriptionKeepsQueueItems(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sub := &models.Subscription{ChannelID: "UC1", ChannelName: "Show", CheckIntervalHours: 24, IsActive: true}
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	item := &models.QueueItem{
		VideoID:        "v1",
		SubscriptionID: &sub.ID,
		Priority:       3,
		Status:         models.StatusQueued,
		ScheduledAt:    now,
		MaxAttempts:    3,
	}
	if err := repo.Enqueue(ctx, item); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("queue item must survive subscription deletion: %v", err)
	}
	if got.SubscriptionID == nil || *got.SubscriptionID != sub.ID {
		t.Fatal("queue item must keep its soft subscription reference")
	}
}
