package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/worker"
)

// OverviewResponse is the dashboard summary
type OverviewResponse struct {
	Queued              int64           `json:"queued"`
	Processing          int64           `json:"processing"`
	CompletedLast24h    int64           `json:"completed_last_24h"`
	FailedLast24h       int64           `json:"failed_last_24h"`
	CurrentlyProcessing *worker.Current `json:"currently_processing"`
}

// PageResponse wraps a paginated listing
type PageResponse struct {
	Items    interface{} `json:"items"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int64       `json:"total"`
}

// SubmitVideoRequest enqueues a manually submitted video
type SubmitVideoRequest struct {
	VideoID     string `json:"video_id" binding:"required"`
	Title       string `json:"title"`
	ChannelName string `json:"channel_name"`
	Priority    int    `json:"priority"`
}

// CreateSubscriptionRequest registers a new content source
type CreateSubscriptionRequest struct {
	URL                string `json:"url" binding:"required"`
	ChannelName        string `json:"channel_name"`
	Priority           int    `json:"priority"`
	CheckIntervalHours int    `json:"check_interval_hours"`
}

// CheckNowResponse reports an out-of-band discovery run
type CheckNowResponse struct {
	SubscriptionID uint `json:"subscription_id"`
	VideosFound    int  `json:"videos_found"`
	VideosEnqueued int  `json:"videos_enqueued"`
}

// historyPage projects terminal items into their read-optimized view
func historyPage(items []*models.QueueItem) []models.HistoryRecord {
	records := make([]models.HistoryRecord, 0, len(items))
	for _, item := range items {
		records = append(records, item.ToHistoryRecord())
	}
	return records
}

// pagination reads page/page_size query params with sane bounds
func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "25"))
	if pageSize < 1 {
		pageSize = 25
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
