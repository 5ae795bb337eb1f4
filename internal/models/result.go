package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// RestaurantStub is one restaurant mention extracted from an episode, before
// place-matching and enrichment happen downstream.
type RestaurantStub struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Cuisine  string `json:"cuisine,omitempty"`
	Context  string `json:"context,omitempty"`
}

// RestaurantSlice stores extracted restaurant stubs as JSON
type RestaurantSlice []RestaurantStub

func (r RestaurantSlice) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RestaurantSlice) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), r)
}

// ExtractionResult is the persisted payload of a successful extraction run:
// the transcript, episode metadata, and the restaurant stubs found in it.
type ExtractionResult struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	VideoID string `gorm:"index;not null" json:"video_id"`

	EpisodeTitle       string     `json:"episode_title"`
	EpisodeDescription string     `json:"episode_description"`
	PublishedAt        *time.Time `json:"published_at"`

	Transcript  string          `json:"transcript"`
	Restaurants RestaurantSlice `gorm:"type:json" json:"restaurants"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
