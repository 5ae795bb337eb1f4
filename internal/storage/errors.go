package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState indicates a mutation illegal for the item's current state,
	// e.g. skipping an item a worker currently holds
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrDuplicate indicates a queue item already exists for the video
	ErrDuplicate = errors.New("video already queued")

	// ErrNoEligibleItem indicates the queue holds no claimable work right now
	ErrNoEligibleItem = errors.New("no eligible queue item")
)
