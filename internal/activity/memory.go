package activity

import (
	"context"
	"fmt"
	"sync"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// MemoryStore is an in-process Store. It keeps the log for the lifetime of
// the process only and is meant for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records []model.ActivityRecord
	// FailAppend, when set, is returned by Append instead of storing.
	FailAppend error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, rec model.ActivityRecord) (model.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return model.ActivityRecord{}, s.FailAppend
	}
	if err := Validate(rec); err != nil {
		return model.ActivityRecord{}, err
	}
	if n := len(s.records); n > 0 && rec.Timestamp.Before(s.records[n-1].Timestamp) {
		rec.Timestamp = s.records[n-1].Timestamp
	}
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *MemoryStore) Last(_ context.Context, types ...model.ActivityType) (model.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if matches(s.records[i].Type, types) {
			return s.records[i], nil
		}
	}
	return model.ActivityRecord{}, model.ErrNotFound
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]model.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	out := make([]model.ActivityRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) Replay(ctx context.Context, fn func(model.ActivityRecord) error) error {
	s.mu.Lock()
	snapshot := append([]model.ActivityRecord(nil), s.records...)
	s.mu.Unlock()
	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, types ...model.ActivityType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if matches(rec.Type, types) {
			n++
		}
	}
	return n, nil
}

// HealthPing implements health.Pinger.
func (s *MemoryStore) HealthPing(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Inject appends rec verbatim, bypassing ordering and type checks. Tests use
// it to simulate a damaged log.
func (s *MemoryStore) Inject(rec model.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, rec)
}

func matches(t model.ActivityType, types []model.ActivityType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// Validate checks a record before it is appended. Store implementations call
// it first.
func Validate(rec model.ActivityRecord) error {
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: activity timestamp is required", model.ErrValidation)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown activity type %q", model.ErrValidation, rec.Type)
	}
	return nil
}

// TypeStrings converts activity types for use as query arguments.
func TypeStrings(types []model.ActivityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
