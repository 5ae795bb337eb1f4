package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/eatcast/eatcast/internal/config"
	"github.com/eatcast/eatcast/internal/extraction"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/pkg/logger"
	"github.com/eatcast/eatcast/pkg/ratelimit"
)

// maxTranscriptChars bounds the transcript portion of the prompt. Longer
// transcripts are truncated from the end; restaurant segments cluster early in
// review-style episodes.
const maxTranscriptChars = 150000

// Engine implements extraction.Engine using Claude. It fetches the transcript,
// prompts the model to extract restaurant mentions, and returns the parsed
// result.
type Engine struct {
	client      anthropic.Client
	transcripts extraction.TranscriptFetcher
	model       string
	maxTokens   int
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewEngine creates a new Claude extraction engine
func NewEngine(cfg config.AnthropicConfig, transcripts extraction.TranscriptFetcher, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Engine {
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	return &Engine{
		client:      client,
		transcripts: transcripts,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: limiter,
		log:         log.WithComponent("extraction"),
	}
}

// extractionResponse mirrors the JSON shape the prompt asks for
type extractionResponse struct {
	Restaurants []models.RestaurantStub `json:"restaurants"`
}

// Extract runs the full extraction for a video: transcript fetch, Claude
// prompt, response parsing.
func (e *Engine) Extract(ctx context.Context, videoID string) (*extraction.Result, error) {
	transcript, err := e.transcripts.Fetch(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("transcript fetch failed: %w", err)
	}

	text := transcript.Text
	if len(text) > maxTranscriptChars {
		text = text[:maxTranscriptChars]
	}

	userPrompt := fmt.Sprintf(ExtractionUserPrompt, transcript.Title, videoID, text)

	response, err := e.complete(ctx, ExtractionSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	e.log.Info().
		Str("video_id", videoID).
		Int("restaurants_found", len(parsed.Restaurants)).
		Msg("Extraction completed")

	return &extraction.Result{
		VideoID:            videoID,
		EpisodeTitle:       transcript.Title,
		EpisodeDescription: transcript.Description,
		PublishedAt:        transcript.PublishedAt,
		Transcript:         transcript.Text,
		Restaurants:        parsed.Restaurants,
	}, nil
}

// complete sends a message to Claude and returns the response text
func (e *Engine) complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	// Wait for rate limiter
	if err := e.rateLimiter.Wait(ctx, ratelimit.LimiterAnthropic); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	e.log.Debug().
		Str("model", e.model).
		Int("max_tokens", e.maxTokens).
		Msg("Sending request to Claude")

	message, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: int64(e.maxTokens),
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		},
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(userMessage),
				},
			},
		},
	})

	if err != nil {
		e.log.Error().Err(err).Msg("Claude API error")
		return "", fmt.Errorf("claude API error: %w", err)
	}

	// Extract text from response
	var response string
	for _, block := range message.Content {
		textBlock := block.AsText()
		if textBlock.Text != "" {
			response += textBlock.Text
		}
	}

	e.log.Debug().
		Int("input_tokens", int(message.Usage.InputTokens)).
		Int("output_tokens", int(message.Usage.OutputTokens)).
		Msg("Received Claude response")

	return response, nil
}

// stripMarkdownCodeBlock removes markdown code block delimiters from AI responses
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	// Find the first { which starts valid JSON
	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return response
	}

	// Find the last } which ends valid JSON
	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return response
	}

	// Extract just the JSON object
	return response[startIdx : endIdx+1]
}
