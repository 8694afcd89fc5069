package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rajchinnag/Death-Switch/internal/config"
)

func TestNewActivityStore_SQLite(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "activity.db")

	s, err := NewActivityStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewActivityStore_UnknownDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "mongo"

	_, err := NewActivityStore(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
