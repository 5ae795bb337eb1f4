package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
)

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Subscription{},
		&models.QueueItem{},
		&models.ExtractionResult{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Subscription operations

func (r *Repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *Repository) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &sub, nil
}

func (r *Repository) GetSubscriptionByChannelID(ctx context.Context, channelID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&sub).Error; err != nil {
		return nil, translateErr(err)
	}
	return &sub, nil
}

func (r *Repository) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := r.db.WithContext(ctx).Order("priority ASC, channel_name ASC").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *Repository) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// DeleteSubscription removes a subscription. Queue items keep their
// subscription_id as a soft reference; nothing cascades.
func (r *Repository) DeleteSubscription(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Subscription{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repository) SetSubscriptionActive(ctx context.Context, id uint, active bool) (*models.Subscription, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return r.GetSubscription(ctx, id)
}

func (r *Repository) DueSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND (next_check_at IS NULL OR next_check_at <= ?)", true, now).
		Order("priority ASC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *Repository) MarkChecked(ctx context.Context, id uint, now time.Time) error {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return translateErr(err)
	}
	next := now.Add(sub.Interval())
	return r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_checked_at": now,
			"next_check_at":   next,
		}).Error
}

// Result operations

func (r *Repository) GetResult(ctx context.Context, id uint) (*models.ExtractionResult, error) {
	var result models.ExtractionResult
	if err := r.db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &result, nil
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
