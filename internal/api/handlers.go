package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
	"github.com/eatcast/eatcast/internal/worker"
	"github.com/eatcast/eatcast/pkg/logger"
)

// PipelineStatus exposes the worker's in-flight state and wake signal
type PipelineStatus interface {
	Current() *worker.Current
	Notify()
}

// SubscriptionChecker runs operator-triggered out-of-band discovery
type SubscriptionChecker interface {
	CheckNow(ctx context.Context, id uint) (found, enqueued int, err error)
}

// Handler serves the control API consumed by the admin dashboard
type Handler struct {
	repo        storage.Repository
	pipeline    PipelineStatus
	checker     SubscriptionChecker
	maxAttempts int
	log         *logger.Logger
}

// NewHandler creates a new control API handler
func NewHandler(repo storage.Repository, pipeline PipelineStatus, checker SubscriptionChecker, maxAttempts int, log *logger.Logger) *Handler {
	return &Handler{
		repo:        repo,
		pipeline:    pipeline,
		checker:     checker,
		maxAttempts: maxAttempts,
		log:         log.WithComponent("api"),
	}
}

// GetOverview returns queue counts and the current in-flight item
func (h *Handler) GetOverview(c *gin.Context) {
	ctx := c.Request.Context()
	since := time.Now().UTC().Add(-24 * time.Hour)

	queued, err := h.repo.CountByStatus(ctx, models.StatusQueued)
	if err != nil {
		h.serverError(c, err)
		return
	}
	processing, err := h.repo.CountByStatus(ctx, models.StatusProcessing)
	if err != nil {
		h.serverError(c, err)
		return
	}
	completed, err := h.repo.CountTerminalSince(ctx, models.StatusCompleted, since)
	if err != nil {
		h.serverError(c, err)
		return
	}
	failed, err := h.repo.CountTerminalSince(ctx, models.StatusFailed, since)
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, OverviewResponse{
		Queued:              queued,
		Processing:          processing,
		CompletedLast24h:    completed,
		FailedLast24h:       failed,
		CurrentlyProcessing: h.pipeline.Current(),
	})
}

// ListQueue returns pending items in dequeue order
func (h *Handler) ListQueue(c *gin.Context) {
	page, pageSize := pagination(c)
	items, total, err := h.repo.ListQueue(c.Request.Context(), page, pageSize)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, PageResponse{Items: items, Page: page, PageSize: pageSize, Total: total})
}

// ListHistory returns terminal items, newest first
func (h *Handler) ListHistory(c *gin.Context) {
	page, pageSize := pagination(c)
	items, total, err := h.repo.ListHistory(c.Request.Context(), page, pageSize)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, PageResponse{Items: historyPage(items), Page: page, PageSize: pageSize, Total: total})
}

// GetItem returns the full item including error log and extraction result
func (h *Handler) GetItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	item, err := h.repo.GetItem(c.Request.Context(), id)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// SubmitVideo enqueues a manually submitted video
func (h *Handler) SubmitVideo(c *gin.Context) {
	var req SubmitVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := req.Priority
	if priority < 1 || priority > 5 {
		priority = 3
	}

	now := time.Now().UTC()
	item := &models.QueueItem{
		VideoID:      req.VideoID,
		VideoTitle:   req.Title,
		ChannelName:  req.ChannelName,
		Priority:     priority,
		Status:       models.StatusQueued,
		ScheduledAt:  now,
		DiscoveredAt: now,
		MaxAttempts:  h.maxAttempts,
	}

	if err := h.repo.Enqueue(c.Request.Context(), item); err != nil {
		h.storageError(c, err)
		return
	}

	h.pipeline.Notify()
	c.JSON(http.StatusCreated, item)
}

// RetryItem resets a failed item back to queued
func (h *Handler) RetryItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	item, err := h.repo.Retry(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		h.storageError(c, err)
		return
	}
	h.pipeline.Notify()
	c.JSON(http.StatusOK, item)
}

// SkipItem moves a queued item to skipped without extraction
func (h *Handler) SkipItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	item, err := h.repo.Skip(c.Request.Context(), id)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// PrioritizeItem moves a queued item to the front of the queue
func (h *Handler) PrioritizeItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	item, err := h.repo.Prioritize(c.Request.Context(), id)
	if err != nil {
		h.storageError(c, err)
		return
	}
	h.pipeline.Notify()
	c.JSON(http.StatusOK, item)
}

// RemoveItem deletes a queued or terminal item
func (h *Handler) RemoveItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	if err := h.repo.Remove(c.Request.Context(), id); err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// Subscription handlers

// ListSubscriptions returns all subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.repo.ListSubscriptions(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

// CreateSubscription registers a new channel to poll
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channelID, err := DeriveChannelID(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := req.Priority
	if priority < 1 || priority > 5 {
		priority = 3
	}
	interval := req.CheckIntervalHours
	if interval < 1 || interval > 168 {
		interval = 24
	}
	channelName := req.ChannelName
	if channelName == "" {
		channelName = channelID
	}

	sub := &models.Subscription{
		ChannelID:          channelID,
		ChannelName:        channelName,
		URL:                req.URL,
		SourceType:         "channel",
		Priority:           priority,
		CheckIntervalHours: interval,
		IsActive:           true,
	}

	if err := h.repo.CreateSubscription(c.Request.Context(), sub); err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// PauseSubscription deactivates a subscription; pausing an already-paused
// subscription is a no-op success
func (h *Handler) PauseSubscription(c *gin.Context) {
	h.setSubscriptionActive(c, false)
}

// ResumeSubscription reactivates a subscription
func (h *Handler) ResumeSubscription(c *gin.Context) {
	h.setSubscriptionActive(c, true)
}

func (h *Handler) setSubscriptionActive(c *gin.Context, active bool) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	sub, err := h.repo.SetSubscriptionActive(c.Request.Context(), id, active)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CheckSubscription triggers out-of-band discovery for one subscription
func (h *Handler) CheckSubscription(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	found, enqueued, err := h.checker.CheckNow(c.Request.Context(), id)
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckNowResponse{
		SubscriptionID: id,
		VideosFound:    found,
		VideosEnqueued: enqueued,
	})
}

// DeleteSubscription removes a subscription; queue items keep their soft
// reference to it
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	if err := h.repo.DeleteSubscription(c.Request.Context(), id); err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// HealthCheck reports liveness
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// helpers

func (h *Handler) itemID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// storageError maps typed storage errors onto HTTP statuses
func (h *Handler) storageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "operation not valid for the item's current state"})
	case errors.Is(err, storage.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "video already queued"})
	default:
		h.serverError(c, err)
	}
}

func (h *Handler) serverError(c *gin.Context, err error) {
	h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// DeriveChannelID extracts the channel id from a channel URL. A bare channel
// id is accepted as-is.
func DeriveChannelID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}

	// Bare channel id
	if !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("invalid channel url")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "channel" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", errors.New("could not derive channel id from url")
}
