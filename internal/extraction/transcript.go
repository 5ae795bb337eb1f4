package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eatcast/eatcast/pkg/logger"
	"github.com/eatcast/eatcast/pkg/ratelimit"
)

// Transcript is what the transcript service returns for a video
type Transcript struct {
	VideoID     string     `json:"video_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	PublishedAt *time.Time `json:"published_at"`
	Text        string     `json:"text"`
}

// TranscriptFetcher retrieves the transcript and episode metadata for a video
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (*Transcript, error)
}

// HTTPTranscriptFetcher fetches transcripts from the transcript service over HTTP
type HTTPTranscriptFetcher struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// NewHTTPTranscriptFetcher creates a fetcher against the given service base URL
func NewHTTPTranscriptFetcher(baseURL string, limiter *ratelimit.MultiLimiter, log *logger.Logger) *HTTPTranscriptFetcher {
	return &HTTPTranscriptFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
		limiter: limiter,
		log:     log.WithComponent("transcript"),
	}
}

// Fetch retrieves the transcript for a video. A 404 or 422 from the service
// means the video has no retrievable transcript and is reported as fatal.
func (f *HTTPTranscriptFetcher) Fetch(ctx context.Context, videoID string) (*Transcript, error) {
	if err := f.limiter.Wait(ctx, ratelimit.LimiterTranscript); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	endpoint := fmt.Sprintf("%s/transcripts/%s", f.baseURL, url.PathEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcript request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, Fatal("no transcript available for video", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("transcript service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript response: %w", err)
	}

	var transcript Transcript
	if err := json.Unmarshal(body, &transcript); err != nil {
		return nil, fmt.Errorf("failed to decode transcript response: %w", err)
	}
	if transcript.Text == "" {
		return nil, Fatal("transcript service returned empty transcript", nil)
	}

	f.log.Debug().
		Str("video_id", videoID).
		Int("transcript_chars", len(transcript.Text)).
		Msg("Fetched transcript")

	return &transcript, nil
}
