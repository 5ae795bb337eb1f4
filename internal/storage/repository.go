package storage

import (
	"context"
	"time"

	"github.com/eatcast/eatcast/internal/models"
)

// Repository defines the interface for data persistence.
//
// All queue state transitions go through conditional-update primitives (Claim,
// Complete, FailRetry, FailTerminal, Skip, Remove, Prioritize, Retry) guarded by
// the item's current status, never through read-then-write from callers. The
// store is the single source of truth: two would-be claims of the same item
// cannot both succeed.
type Repository interface {
	// Subscription operations
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uint) (*models.Subscription, error)
	GetSubscriptionByChannelID(ctx context.Context, channelID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id uint) error
	SetSubscriptionActive(ctx context.Context, id uint, active bool) (*models.Subscription, error)
	// DueSubscriptions returns active subscriptions with next_check_at <= now
	// (or never checked), ordered by priority
	DueSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	// MarkChecked advances last_checked_at and next_check_at regardless of
	// whether discovery succeeded
	MarkChecked(ctx context.Context, id uint, now time.Time) error

	// Queue reads
	GetItem(ctx context.Context, id uint) (*models.QueueItem, error)
	GetItemByVideoID(ctx context.Context, videoID string) (*models.QueueItem, error)
	ListQueue(ctx context.Context, page, pageSize int) ([]*models.QueueItem, int64, error)
	ListHistory(ctx context.Context, page, pageSize int) ([]*models.QueueItem, int64, error)
	CountByStatus(ctx context.Context, status models.ItemStatus) (int64, error)
	CountTerminalSince(ctx context.Context, status models.ItemStatus, since time.Time) (int64, error)

	// Enqueue inserts a queue item unless one already exists for the video;
	// returns ErrDuplicate when it does
	Enqueue(ctx context.Context, item *models.QueueItem) error

	// Conditional state transitions
	ClaimNext(ctx context.Context, now time.Time) (*models.QueueItem, error)
	Complete(ctx context.Context, id uint, result *models.ExtractionResult, now time.Time) (*models.QueueItem, error)
	FailRetry(ctx context.Context, id uint, message string, retryAt time.Time, now time.Time) (*models.QueueItem, error)
	FailTerminal(ctx context.Context, id uint, message string, now time.Time) (*models.QueueItem, error)
	Skip(ctx context.Context, id uint) (*models.QueueItem, error)
	Remove(ctx context.Context, id uint) error
	Prioritize(ctx context.Context, id uint) (*models.QueueItem, error)
	Retry(ctx context.Context, id uint, now time.Time) (*models.QueueItem, error)

	// RequeueAbandoned re-queues items left in processing by a crashed worker.
	// The lost attempt stays counted. Returns the number of items recovered.
	RequeueAbandoned(ctx context.Context, now time.Time) (int64, error)

	// Result operations
	GetResult(ctx context.Context, id uint) (*models.ExtractionResult, error)

	// Maintenance
	Close() error
	Migrate() error
}
