package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eatcast/eatcast/internal/extraction"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
	"github.com/eatcast/eatcast/pkg/logger"
)

// Current summarizes the single in-flight item
type Current struct {
	ItemID      uint      `json:"item_id"`
	VideoID     string    `json:"video_id"`
	VideoTitle  string    `json:"video_title"`
	ChannelName string    `json:"channel_name"`
	Attempt     int       `json:"attempt"`
	StartedAt   time.Time `json:"started_at"`
}

// Worker is the single consumer turning queue items into extraction results.
// At most one item is processed at a time: the atomic claim in the store would
// support N workers, but N=1 keeps ordering predictable and respects the
// extraction dependency's rate limits.
type Worker struct {
	repo           storage.Repository
	engine         extraction.Engine
	extractTimeout time.Duration
	pollInterval   time.Duration
	log            *logger.Logger

	wake chan struct{}

	mu      sync.RWMutex
	current *Current
}

// New creates a new pipeline worker
func New(repo storage.Repository, engine extraction.Engine, extractTimeout, pollInterval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		repo:           repo,
		engine:         engine,
		extractTimeout: extractTimeout,
		pollInterval:   pollInterval,
		log:            log.WithComponent("worker"),
		wake:           make(chan struct{}, 1),
	}
}

// Notify wakes the worker when new work may have become eligible: an enqueue,
// a manual retry, or a reprioritization. Non-blocking; a pending wake absorbs
// further notifications.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Current returns the in-flight item's summary, or nil when idle
func (w *Worker) Current() *Current {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil
	}
	cur := *w.current
	return &cur
}

// RecoverAbandoned re-queues items a previous process left in processing.
// Call once before Run: an item mid-flight during a crash costs exactly one
// attempt and goes back to the queue.
func (w *Worker) RecoverAbandoned(ctx context.Context) error {
	recovered, err := w.repo.RequeueAbandoned(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.log.Warn().Int64("recovered", recovered).Msg("Re-queued items abandoned by previous run")
	}
	return nil
}

// Run consumes the queue until the context is cancelled. When no item is
// eligible it waits for a wake signal, falling back to a poll interval for
// items whose scheduled_at lies in the future.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Dur("extract_timeout", w.extractTimeout).
		Dur("poll_interval", w.pollInterval).
		Msg("Worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		item, err := w.repo.ClaimNext(ctx, time.Now().UTC())
		switch {
		case err == nil:
			w.process(ctx, item)
			continue
		case errors.Is(err, storage.ErrNoEligibleItem):
			// fall through to wait
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			w.log.Error().Err(err).Msg("Failed to claim next item")
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return ctx.Err()
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// process runs one claimed item through the extraction engine and applies the
// outcome. The transition is guarded by the item's processing status in the
// store, so a given attempt's outcome is applied at most once.
func (w *Worker) process(ctx context.Context, item *models.QueueItem) {
	log := w.log.WithItemID(item.ID).WithVideoID(item.VideoID)
	startedAt := time.Now().UTC()

	w.setCurrent(&Current{
		ItemID:      item.ID,
		VideoID:     item.VideoID,
		VideoTitle:  item.VideoTitle,
		ChannelName: item.ChannelName,
		Attempt:     item.AttemptCount,
		StartedAt:   startedAt,
	})
	defer w.setCurrent(nil)

	log.Info().
		Int("attempt", item.AttemptCount).
		Int("max_attempts", item.MaxAttempts).
		Msg("Processing item")

	// The extraction call is non-interruptible by contract; the timeout is the
	// only way a stuck call ends, and it counts as one attempt.
	extractCtx, cancel := context.WithTimeout(ctx, w.extractTimeout)
	result, err := w.engine.Extract(extractCtx, item.VideoID)
	cancel()

	now := time.Now().UTC()

	if err == nil {
		stored := &models.ExtractionResult{
			VideoID:            result.VideoID,
			EpisodeTitle:       result.EpisodeTitle,
			EpisodeDescription: result.EpisodeDescription,
			PublishedAt:        result.PublishedAt,
			Transcript:         result.Transcript,
			Restaurants:        result.Restaurants,
		}
		if _, completeErr := w.repo.Complete(ctx, item.ID, stored, now); completeErr != nil {
			log.Error().Err(completeErr).Msg("Failed to record completion")
			return
		}
		log.Info().
			Int("restaurants_found", len(result.Restaurants)).
			Dur("duration", now.Sub(startedAt)).
			Msg("Item completed")
		return
	}

	message := err.Error()

	switch {
	case extraction.IsFatal(err):
		// Non-retriable by the engine's own declaration; skip the retry budget.
		if _, failErr := w.repo.FailTerminal(ctx, item.ID, message, now); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record fatal failure")
			return
		}
		log.Warn().Str("error", message).Msg("Item failed permanently (fatal)")

	case item.AttemptCount >= item.MaxAttempts:
		if _, failErr := w.repo.FailTerminal(ctx, item.ID, message, now); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record terminal failure")
			return
		}
		log.Warn().
			Str("error", message).
			Int("attempts", item.AttemptCount).
			Msg("Item failed permanently (retries exhausted)")

	default:
		retryAt := now.Add(Backoff(item.AttemptCount))
		if _, failErr := w.repo.FailRetry(ctx, item.ID, message, retryAt, now); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record retriable failure")
			return
		}
		log.Warn().
			Str("error", message).
			Time("retry_at", retryAt).
			Msg("Item failed, retry scheduled")
	}
}

func (w *Worker) setCurrent(cur *Current) {
	w.mu.Lock()
	w.current = cur
	w.mu.Unlock()
}
