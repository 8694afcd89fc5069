// Package activitytest is a compliance suite for activity.Store
// implementations.
package activitytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

// Run exercises an activity.Store. makeStore must return an empty, isolated
// store.
func Run(t *testing.T, makeStore func(t *testing.T) activity.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, err := s.Last(ctx, model.ActivityCheckIn); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Last on empty store: want ErrNotFound, got %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count on empty store: n=%d err=%v", n, err)
	}

	// Append assigns increasing ids
	first, err := s.Append(ctx, model.ActivityRecord{Timestamp: t0, Type: model.ActivityCheckIn, Origin: "10.0.0.1", Note: "curl"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(ctx, model.ActivityRecord{Timestamp: t0.Add(time.Hour), Type: model.ActivityKillSwitchFailed, Note: "wrong code"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}

	// An earlier timestamp is clamped to the newest stored one
	late, err := s.Append(ctx, model.ActivityRecord{Timestamp: t0.Add(30 * time.Minute), Type: model.ActivityCheckIn})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if late.Timestamp.Before(second.Timestamp) {
		t.Fatalf("timestamp went backwards: %s < %s", late.Timestamp, second.Timestamp)
	}

	// Invalid records are rejected
	if _, err := s.Append(ctx, model.ActivityRecord{Type: model.ActivityCheckIn}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Append zero timestamp: want ErrValidation, got %v", err)
	}
	if _, err := s.Append(ctx, model.ActivityRecord{Timestamp: t0, Type: "NOPE"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Append unknown type: want ErrValidation, got %v", err)
	}

	// Last filters by type
	last, err := s.Last(ctx, model.ActivityCheckIn)
	if err != nil || last.ID != late.ID {
		t.Fatalf("Last(CHECK_IN): got=%+v err=%v", last, err)
	}
	last, err = s.Last(ctx, model.ActivityKillSwitchFailed, model.ActivityKillSwitch)
	if err != nil || last.ID != second.ID || last.Note != "wrong code" {
		t.Fatalf("Last(KILL_SWITCH_*): got=%+v err=%v", last, err)
	}

	// Count with and without filters
	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}
	if n, err := s.Count(ctx, model.ActivityCheckIn); err != nil || n != 2 {
		t.Fatalf("Count(CHECK_IN): n=%d err=%v", n, err)
	}

	// Recent is newest first and honours the limit
	recent, err := s.Recent(ctx, 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent: n=%d err=%v", len(recent), err)
	}
	if recent[0].ID != late.ID || recent[1].ID != second.ID {
		t.Fatalf("Recent order: %d, %d", recent[0].ID, recent[1].ID)
	}

	// Replay is in log order with non-decreasing timestamps
	var seen []model.ActivityRecord
	if err := s.Replay(ctx, func(r model.ActivityRecord) error {
		seen = append(seen, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seen) != 3 || seen[0].ID != first.ID || seen[2].ID != late.ID {
		t.Fatalf("Replay order: %+v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Timestamp.Before(seen[i-1].Timestamp) {
			t.Fatalf("Replay timestamps decrease at %d", i)
		}
	}
	if seen[0].Origin != "10.0.0.1" || seen[0].Note != "curl" || seen[0].Type != model.ActivityCheckIn {
		t.Fatalf("Replay lost fields: %+v", seen[0])
	}

	// Replay stops on callback error
	stop := errors.New("stop")
	calls := 0
	if err := s.Replay(ctx, func(model.ActivityRecord) error {
		calls++
		return stop
	}); !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("Replay stop: calls=%d err=%v", calls, err)
	}
}
