package youtube

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/eatcast/eatcast/internal/config"
	"github.com/eatcast/eatcast/internal/discovery"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/pkg/logger"
	"github.com/eatcast/eatcast/pkg/ratelimit"
)

// Probe implements discovery.Probe using the YouTube Data API v3. It resolves
// the channel's uploads playlist and lists its most recent entries.
type Probe struct {
	apiKey     string
	maxResults int64
	limiter    *ratelimit.MultiLimiter
	log        *logger.Logger
}

// New creates a new YouTube API probe
func New(cfg config.YouTubeConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Probe {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Probe{
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		limiter:    limiter,
		log:        log.WithComponent("youtube"),
	}
}

// Name returns "youtube"
func (p *Probe) Name() string {
	return "youtube"
}

// Discover lists recent uploads of the subscription's channel
func (p *Probe) Discover(ctx context.Context, sub *models.Subscription) ([]discovery.Video, error) {
	if err := p.limiter.Wait(ctx, ratelimit.LimiterYouTube); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	channels, err := svc.Channels.List([]string{"contentDetails"}).
		Id(sub.ChannelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to look up channel %s: %w", sub.ChannelID, err)
	}
	if len(channels.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", sub.ChannelID)
	}

	uploads := channels.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return nil, fmt.Errorf("channel %s has no uploads playlist", sub.ChannelID)
	}

	playlist, err := svc.PlaylistItems.List([]string{"snippet"}).
		PlaylistId(uploads).
		MaxResults(p.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads for channel %s: %w", sub.ChannelID, err)
	}

	videos := make([]discovery.Video, 0, len(playlist.Items))
	for _, item := range playlist.Items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil {
			continue
		}
		videos = append(videos, discovery.Video{
			VideoID:     item.Snippet.ResourceId.VideoId,
			Title:       item.Snippet.Title,
			ChannelName: item.Snippet.ChannelTitle,
		})
	}

	p.log.Info().
		Str("channel_id", sub.ChannelID).
		Int("count", len(videos)).
		Msg("Fetched channel uploads")

	return videos, nil
}
