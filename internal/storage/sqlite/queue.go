package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
)

// dequeueOrder is the total order of the queue: lowest priority value first,
// then earliest scheduled_at, then earliest discovered_at, then id as the final
// tiebreaker. Operator prioritize actions rely on this being deterministic.
const dequeueOrder = "priority ASC, scheduled_at ASC, discovered_at ASC, id ASC"

// Queue reads

func (r *Repository) GetItem(ctx context.Context, id uint) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := r.db.WithContext(ctx).Preload("Result").First(&item, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &item, nil
}

func (r *Repository) GetItemByVideoID(ctx context.Context, videoID string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&item).Error; err != nil {
		return nil, translateErr(err)
	}
	return &item, nil
}

func (r *Repository) ListQueue(ctx context.Context, page, pageSize int) ([]*models.QueueItem, int64, error) {
	pending := []models.ItemStatus{models.StatusQueued, models.StatusProcessing}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status IN ?", pending).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []*models.QueueItem
	err := r.db.WithContext(ctx).
		Where("status IN ?", pending).
		Order(dequeueOrder).
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListHistory(ctx context.Context, page, pageSize int) ([]*models.QueueItem, int64, error) {
	terminal := []models.ItemStatus{models.StatusCompleted, models.StatusFailed, models.StatusSkipped}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status IN ?", terminal).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []*models.QueueItem
	err := r.db.WithContext(ctx).
		Where("status IN ?", terminal).
		Order("updated_at DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) CountByStatus(ctx context.Context, status models.ItemStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status = ?", status).Count(&count).Error
	return count, err
}

func (r *Repository) CountTerminalSince(ctx context.Context, status models.ItemStatus, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status = ? AND updated_at >= ?", status, since).Count(&count).Error
	return count, err
}

// Enqueue inserts a queue item unless one already exists for the video.
// The unique index on video_id makes this safe under overlapping scheduler
// ticks: the second insert is a no-op and reports ErrDuplicate.
func (r *Repository) Enqueue(ctx context.Context, item *models.QueueItem) error {
	if item.Status == "" {
		item.Status = models.StatusQueued
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

// State transitions
//
// Each transition is a single UPDATE guarded by the item's current status.
// RowsAffected == 0 means the guard failed: someone else transitioned the item
// first, and the caller's transition must not be applied.

// ClaimNext atomically claims the highest-priority eligible item for
// processing. The claim increments attempt_count and stamps
// processing_started_at. Returns ErrNoEligibleItem when nothing is due.
func (r *Repository) ClaimNext(ctx context.Context, now time.Time) (*models.QueueItem, error) {
	for {
		var candidate models.QueueItem
		err := r.db.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", models.StatusQueued, now).
			Order(dequeueOrder).
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNoEligibleItem
		}
		if err != nil {
			return nil, err
		}

		res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", candidate.ID, models.StatusQueued).
			Updates(map[string]interface{}{
				"status":                models.StatusProcessing,
				"attempt_count":         gorm.Expr("attempt_count + 1"),
				"processing_started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race for this item; pick the next candidate.
			continue
		}
		return r.GetItem(ctx, candidate.ID)
	}
}

// Complete moves a processing item to completed and persists its extraction
// result. The most recent error message is cleared; error_log keeps the full
// failure history.
func (r *Repository) Complete(ctx context.Context, id uint, result *models.ExtractionResult, now time.Time) (*models.QueueItem, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return err
		}
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", id, models.StatusProcessing).
			Updates(map[string]interface{}{
				"status":                  models.StatusCompleted,
				"restaurants_found":       len(result.Restaurants),
				"result_id":               result.ID,
				"processing_completed_at": now,
				"error_message":           "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetItem(ctx, id)
}

// FailRetry records a retriable failure: the item goes back to queued with a
// future scheduled_at so a struggling source does not hot-loop.
func (r *Repository) FailRetry(ctx context.Context, id uint, message string, retryAt time.Time, now time.Time) (*models.QueueItem, error) {
	return r.fail(ctx, id, message, models.StatusQueued, retryAt, now)
}

// FailTerminal records a permanent failure; the item stays failed pending a
// manual retry.
func (r *Repository) FailTerminal(ctx context.Context, id uint, message string, now time.Time) (*models.QueueItem, error) {
	item, err := r.fail(ctx, id, message, models.StatusFailed, now, now)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *Repository) fail(ctx context.Context, id uint, message string, to models.ItemStatus, scheduledAt, now time.Time) (*models.QueueItem, error) {
	item, err := r.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.StatusProcessing {
		return nil, storage.ErrInvalidState
	}

	// Appending to error_log reads the current log first. This is safe because
	// only the worker holding the claim may transition a processing item, and
	// the status guard below rejects the write if that ever stops being true.
	newLog := item.ErrorLog.Append(item.AttemptCount, now, message)

	updates := map[string]interface{}{
		"status":        to,
		"error_message": message,
		"error_log":     newLog,
		"scheduled_at":  scheduledAt,
	}
	if to == models.StatusFailed {
		updates["processing_completed_at"] = now
	}

	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrInvalidState
	}
	return r.GetItem(ctx, id)
}

// Skip transitions a queued item directly to skipped without an extraction
// attempt. Skipping an already-skipped item is a successful no-op.
func (r *Repository) Skip(ctx context.Context, id uint) (*models.QueueItem, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Update("status", models.StatusSkipped)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.GetItem(ctx, id)
	}

	item, err := r.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == models.StatusSkipped {
		return item, nil
	}
	return nil, storage.ErrInvalidState
}

// Remove deletes a queued or terminal item. An item a worker currently holds
// cannot be removed: the in-flight extraction is non-interruptible and its
// result must not be orphaned.
func (r *Repository) Remove(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, models.StatusProcessing).
		Delete(&models.QueueItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetItem(ctx, id); err != nil {
		return err
	}
	return storage.ErrInvalidState
}

// Prioritize moves a queued item to the front: its priority becomes one tier
// below the minimum currently present in the queue, so it dequeues before any
// currently-queued item. Repeated prioritize calls on different items stay
// well ordered relative to each other.
func (r *Repository) Prioritize(ctx context.Context, id uint) (*models.QueueItem, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Update("priority", gorm.Expr(
			"(SELECT COALESCE(MIN(priority), 2) - 1 FROM queue_items WHERE status = ?)",
			models.StatusQueued,
		))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.GetItem(ctx, id)
	}

	if _, err := r.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return nil, storage.ErrInvalidState
}

// Retry resets a permanently failed item back to queued. attempt_count is
// preserved for audit, so the item gets exactly one more attempt before the
// budget check fails it again.
func (r *Repository) Retry(ctx context.Context, id uint, now time.Time) (*models.QueueItem, error) {
	item, err := r.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	retriable := item.Status == models.StatusFailed ||
		(item.Status == models.StatusCompleted && item.ErrorMessage != "")
	if !retriable {
		return nil, storage.ErrInvalidState
	}

	newLog := item.ErrorLog.Append(item.AttemptCount, now, "manual retry requested by operator")

	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, item.Status).
		Updates(map[string]interface{}{
			"status":                  models.StatusQueued,
			"scheduled_at":            now,
			"error_log":               newLog,
			"processing_started_at":   nil,
			"processing_completed_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrInvalidState
	}
	return r.GetItem(ctx, id)
}

// RequeueAbandoned re-queues items left in processing across a restart. The
// attempt was already counted at claim time, so the crash costs the item
// exactly one attempt.
func (r *Repository) RequeueAbandoned(ctx context.Context, now time.Time) (int64, error) {
	var abandoned []*models.QueueItem
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusProcessing).
		Find(&abandoned).Error; err != nil {
		return 0, err
	}

	var recovered int64
	for _, item := range abandoned {
		newLog := item.ErrorLog.Append(item.AttemptCount, now, "processing interrupted by restart")
		res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", item.ID, models.StatusProcessing).
			Updates(map[string]interface{}{
				"status":                models.StatusQueued,
				"scheduled_at":          now,
				"error_log":             newLog,
				"processing_started_at": nil,
			})
		if res.Error != nil {
			return recovered, res.Error
		}
		recovered += res.RowsAffected
	}
	return recovered, nil
}
