// Package activity defines the append-only activity log the switch derives
// its state from.
package activity

import (
	"context"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// Store is the durable, append-only activity log.
//
// Append must be durable before it returns. Records are never updated or
// deleted. Timestamps are non-decreasing in log order: an implementation
// raises a timestamp that is earlier than the newest stored one up to that
// value.
type Store interface {
	// Append persists rec and returns it with ID and (possibly clamped)
	// Timestamp set. A zero Timestamp is invalid.
	Append(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error)
	// Last returns the newest record of any of the given types, or
	// model.ErrNotFound.
	Last(ctx context.Context, types ...model.ActivityType) (model.ActivityRecord, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]model.ActivityRecord, error)
	// Replay streams every record in log order. An error from fn stops the
	// replay and is returned.
	Replay(ctx context.Context, fn func(model.ActivityRecord) error) error
	// Count returns the number of records of the given types, or all records
	// when none are given.
	Count(ctx context.Context, types ...model.ActivityType) (int, error)
	Close() error
}

// DefaultRecentLimit caps Recent when callers pass a non-positive limit.
const DefaultRecentLimit = 50
