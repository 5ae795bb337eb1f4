package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eatcast/eatcast/internal/discovery"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
	"github.com/eatcast/eatcast/pkg/logger"
)

// Waker is notified when new work lands in the queue so the worker can stop
// waiting on its poll interval.
type Waker interface {
	Notify()
}

// Scheduler decides each tick which subscriptions are due and runs discovery
// for them. Discovery failures are isolated per subscription: a broken source
// is logged, its interval still advances, and the remaining subscriptions are
// still checked.
type Scheduler struct {
	repo         storage.Repository
	probe        discovery.Probe
	waker        Waker
	probeTimeout time.Duration
	maxAttempts  int
	log          *logger.Logger
}

// New creates a new subscription scheduler. maxAttempts is the retry budget
// stamped on newly enqueued items.
func New(repo storage.Repository, probe discovery.Probe, waker Waker, probeTimeout time.Duration, maxAttempts int, log *logger.Logger) *Scheduler {
	return &Scheduler{
		repo:         repo,
		probe:        probe,
		waker:        waker,
		probeTimeout: probeTimeout,
		maxAttempts:  maxAttempts,
		log:          log.WithComponent("scheduler"),
	}
}

// TickResult summarizes one scheduler tick
type TickResult struct {
	SubscriptionsChecked int
	VideosFound          int
	VideosEnqueued       int
	Errors               []error
}

// Tick checks every due subscription and enqueues newly discovered videos
func (s *Scheduler) Tick(ctx context.Context) *TickResult {
	now := time.Now().UTC()
	result := &TickResult{}

	subs, err := s.repo.DueSubscriptions(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load due subscriptions")
		result.Errors = append(result.Errors, err)
		return result
	}
	if len(subs) == 0 {
		return result
	}

	s.log.Info().Int("due", len(subs)).Msg("Checking due subscriptions")

	for _, sub := range subs {
		found, enqueued, err := s.checkSubscription(ctx, sub, now)
		result.SubscriptionsChecked++
		result.VideosFound += found
		result.VideosEnqueued += enqueued
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("subscription %d (%s): %w", sub.ID, sub.ChannelName, err))
		}
	}

	if result.VideosEnqueued > 0 && s.waker != nil {
		s.waker.Notify()
	}

	s.log.Info().
		Int("checked", result.SubscriptionsChecked).
		Int("found", result.VideosFound).
		Int("enqueued", result.VideosEnqueued).
		Int("errors", len(result.Errors)).
		Msg("Tick completed")

	return result
}

// CheckNow runs operator-triggered out-of-band discovery for one subscription.
// It bypasses next_check_at but still advances it afterward. A paused
// subscription can be checked this way; only automatic ticks respect the pause.
func (s *Scheduler) CheckNow(ctx context.Context, id uint) (found, enqueued int, err error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	found, enqueued, err = s.checkSubscription(ctx, sub, now)

	if enqueued > 0 && s.waker != nil {
		s.waker.Notify()
	}
	return found, enqueued, err
}

// checkSubscription runs discovery for one subscription and enqueues anything
// new. The check interval advances regardless of the discovery outcome so a
// broken source is not retried in a tight loop.
func (s *Scheduler) checkSubscription(ctx context.Context, sub *models.Subscription, now time.Time) (found, enqueued int, err error) {
	log := s.log.WithSubscription(sub.ID, sub.ChannelName)

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	videos, discoverErr := s.probe.Discover(probeCtx, sub)
	cancel()

	if markErr := s.repo.MarkChecked(ctx, sub.ID, now); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to advance check interval")
		if discoverErr == nil {
			discoverErr = markErr
		}
	}

	if discoverErr != nil {
		log.Warn().Err(discoverErr).Msg("Discovery failed")
		return 0, 0, discoverErr
	}

	found = len(videos)
	for _, video := range videos {
		channelName := video.ChannelName
		if channelName == "" {
			channelName = sub.ChannelName
		}

		subID := sub.ID
		item := &models.QueueItem{
			VideoID:        video.VideoID,
			VideoTitle:     video.Title,
			ChannelName:    channelName,
			SubscriptionID: &subID,
			Priority:       sub.Priority,
			Status:         models.StatusQueued,
			ScheduledAt:    now,
			DiscoveredAt:   now,
			MaxAttempts:    s.maxAttempts,
		}

		switch enqueueErr := s.repo.Enqueue(ctx, item); {
		case enqueueErr == nil:
			enqueued++
			log.Debug().Str("video_id", video.VideoID).Str("title", video.Title).Msg("Enqueued video")
		case errors.Is(enqueueErr, storage.ErrDuplicate):
			// Already queued, processing, or finished; nothing to do.
		default:
			log.Error().Err(enqueueErr).Str("video_id", video.VideoID).Msg("Failed to enqueue video")
			err = enqueueErr
		}
	}

	log.Info().Int("found", found).Int("enqueued", enqueued).Msg("Subscription checked")
	return found, enqueued, err
}
