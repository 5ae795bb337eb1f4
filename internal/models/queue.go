package models

import (
	"time"
)

// ItemStatus represents the processing state of a queue item
type ItemStatus string

const (
	StatusQueued     ItemStatus = "queued"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
	StatusSkipped    ItemStatus = "skipped"
)

// IsTerminal reports whether no further automatic transition occurs from the status
func (s ItemStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// QueueItem is the unit of work: one discovered video awaiting or undergoing
// restaurant extraction. Video title and channel name are denormalized at enqueue
// time for display and never refreshed afterward.
type QueueItem struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	VideoID     string `gorm:"uniqueIndex;not null" json:"video_id"`
	VideoTitle  string `json:"video_title"`
	ChannelName string `json:"channel_name"`

	// SubscriptionID is nil for manually submitted videos
	SubscriptionID *uint `gorm:"index" json:"subscription_id"`

	Priority     int        `gorm:"default:3;index" json:"priority"`
	Status       ItemStatus `gorm:"default:'queued';index" json:"status"`
	ScheduledAt  time.Time  `gorm:"index" json:"scheduled_at"`
	DiscoveredAt time.Time  `gorm:"autoCreateTime" json:"discovered_at"`

	AttemptCount int      `json:"attempt_count"`
	MaxAttempts  int      `gorm:"default:3" json:"max_attempts"`
	ErrorMessage string   `json:"error_message"`
	ErrorLog     ErrorLog `gorm:"type:json" json:"error_log"`

	ProcessingStartedAt   *time.Time `json:"processing_started_at"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at"`

	RestaurantsFound int               `json:"restaurants_found"`
	ResultID         *uint             `json:"result_id"`
	Result           *ExtractionResult `gorm:"foreignKey:ResultID" json:"result,omitempty"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessingDuration returns how long the last processing run took, or zero
// if the item never finished processing.
func (q *QueueItem) ProcessingDuration() time.Duration {
	if q.ProcessingStartedAt == nil || q.ProcessingCompletedAt == nil {
		return 0
	}
	return q.ProcessingCompletedAt.Sub(*q.ProcessingStartedAt)
}

// HistoryRecord is the read-optimized terminal view of a queue item. It is a
// query-time projection, not a stored entity.
type HistoryRecord struct {
	ID               uint       `json:"id"`
	VideoID          string     `json:"video_id"`
	VideoTitle       string     `json:"video_title"`
	ChannelName      string     `json:"channel_name"`
	Status           ItemStatus `json:"status"`
	RestaurantsFound int        `json:"restaurants_found"`
	DurationSeconds  float64    `json:"duration_seconds"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// ToHistoryRecord projects a terminal queue item into its history view
func (q *QueueItem) ToHistoryRecord() HistoryRecord {
	rec := HistoryRecord{
		ID:               q.ID,
		VideoID:          q.VideoID,
		VideoTitle:       q.VideoTitle,
		ChannelName:      q.ChannelName,
		Status:           q.Status,
		RestaurantsFound: q.RestaurantsFound,
		DurationSeconds:  q.ProcessingDuration().Seconds(),
		ErrorMessage:     q.ErrorMessage,
		FinishedAt:       q.UpdatedAt,
	}
	if q.ProcessingCompletedAt != nil {
		rec.FinishedAt = *q.ProcessingCompletedAt
	}
	return rec
}
