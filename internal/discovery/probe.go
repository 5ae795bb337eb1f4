package discovery

import (
	"context"

	"github.com/eatcast/eatcast/internal/models"
)

// Video is one candidate video reported by a probe
type Video struct {
	VideoID     string
	Title       string
	ChannelName string
}

// Probe discovers candidate videos for a subscription. Implementations report
// everything recent they can see; the queue store deduplicates against videos
// already known to the system.
type Probe interface {
	// Name returns the probe's identifier (youtube, rss)
	Name() string

	// Discover returns candidate videos for the subscription's channel
	Discover(ctx context.Context, sub *models.Subscription) ([]Video, error)
}
