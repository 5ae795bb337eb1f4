package rssfeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/eatcast/eatcast/internal/discovery"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/pkg/logger"
	"github.com/eatcast/eatcast/pkg/ratelimit"
)

const feedURLFormat = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// Probe implements discovery.Probe by parsing the channel's public RSS feed.
// The feed carries the latest ~15 uploads and costs no API quota, making this
// the fallback when no YouTube API key is configured.
type Probe struct {
	parser  *gofeed.Parser
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// New creates a new RSS feed probe
func New(limiter *ratelimit.MultiLimiter, log *logger.Logger) *Probe {
	return &Probe{
		parser:  gofeed.NewParser(),
		limiter: limiter,
		log:     log.WithComponent("rssfeed"),
	}
}

// Name returns "rss"
func (p *Probe) Name() string {
	return "rss"
}

// Discover parses the channel feed and returns its entries
func (p *Probe) Discover(ctx context.Context, sub *models.Subscription) ([]discovery.Video, error) {
	if err := p.limiter.Wait(ctx, ratelimit.LimiterRSS); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	url := fmt.Sprintf(feedURLFormat, sub.ChannelID)
	feed, err := p.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel feed %s: %w", sub.ChannelID, err)
	}

	videos := make([]discovery.Video, 0, len(feed.Items))
	for _, item := range feed.Items {
		videoID := videoIDFromItem(item)
		if videoID == "" {
			continue
		}

		channelName := sub.ChannelName
		if feed.Title != "" {
			channelName = feed.Title
		}

		videos = append(videos, discovery.Video{
			VideoID:     videoID,
			Title:       item.Title,
			ChannelName: channelName,
		})
	}

	p.log.Info().
		Str("channel_id", sub.ChannelID).
		Int("count", len(videos)).
		Msg("Fetched channel feed")

	return videos, nil
}

// videoIDFromItem reads the yt:videoId extension, falling back to the watch URL
func videoIDFromItem(item *gofeed.Item) string {
	if yt, ok := item.Extensions["yt"]; ok {
		if ids, ok := yt["videoId"]; ok && len(ids) > 0 {
			return ids[0].Value
		}
	}
	if idx := strings.Index(item.Link, "watch?v="); idx >= 0 {
		return item.Link[idx+len("watch?v="):]
	}
	return ""
}
