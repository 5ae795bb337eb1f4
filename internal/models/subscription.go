package models

import (
	"time"
)

// Subscription represents a tracked content source (a podcast/YouTube channel)
// polled on an interval for new videos.
type Subscription struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ChannelID   string `gorm:"uniqueIndex;not null" json:"channel_id"`
	ChannelName string `gorm:"not null" json:"channel_name"`
	URL         string `json:"url"`
	SourceType  string `gorm:"default:'channel'" json:"source_type"`

	// Priority is inherited by discovered queue items: 1=critical ... 5=very low
	Priority           int  `gorm:"default:3" json:"priority"`
	CheckIntervalHours int  `gorm:"default:24" json:"check_interval_hours"`
	IsActive           bool `gorm:"default:true" json:"is_active"`

	LastCheckedAt *time.Time `json:"last_checked_at"`
	NextCheckAt   *time.Time `gorm:"index" json:"next_check_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Interval returns the check interval as a duration
func (s *Subscription) Interval() time.Duration {
	return time.Duration(s.CheckIntervalHours) * time.Hour
}

// IsDue reports whether the subscription should be checked at the given time.
// A paused subscription is never due regardless of next_check_at.
func (s *Subscription) IsDue(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.NextCheckAt == nil {
		return true
	}
	return !s.NextCheckAt.After(now)
}
