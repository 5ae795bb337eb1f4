package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eatcast/eatcast/internal/models"
)

// Result is the outcome of a successful extraction run
type Result struct {
	VideoID            string
	EpisodeTitle       string
	EpisodeDescription string
	PublishedAt        *time.Time
	Transcript         string
	Restaurants        []models.RestaurantStub
}

// Engine turns a video into extracted restaurant mentions. The call is
// long-running and must be safely re-invokable: retrying the same video id
// must not corrupt downstream records.
type Engine interface {
	Extract(ctx context.Context, videoID string) (*Result, error)
}

// FatalError marks a failure as non-retriable, e.g. a malformed or deleted
// video. It bypasses the retry budget and fails the item immediately.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error as non-retriable
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsFatal reports whether the error is marked non-retriable
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
