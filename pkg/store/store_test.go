package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/mentat25/Metrix/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "metrix.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_UpsertInsertThenUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	summary := run.NewSummary("/runs/240101_M001_0001_AFLOW")
	summary.LastUpdated = time.Now().UTC().Truncate(time.Second)

	exists, err := s.Exists(ctx, summary.RunDirectory)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Upsert(ctx, summary))
	require.NotZero(t, summary.ID)

	firstID := summary.ID

	exists, err = s.Exists(ctx, summary.RunDirectory)
	require.NoError(t, err)
	assert.True(t, exists)

	// A fresh value for the same directory updates the existing row.
	update := summary.Clone()
	update.ID = 0
	update.State = run.StateRunning
	update.CurrentCycle = 42
	update.MetadataLoaded = true

	require.NoError(t, s.Upsert(ctx, update))
	assert.Equal(t, firstID, update.ID)

	got, err := s.Get(ctx, summary.RunDirectory)
	require.NoError(t, err)
	assert.Equal(t, firstID, got.ID)
	assert.Equal(t, run.StateRunning, got.State)
	assert.Equal(t, 42, got.CurrentCycle)
	assert.True(t, got.MetadataLoaded)
	assert.Equal(t, "240101_M001_0001_AFLOW", got.RunID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_UpsertPersistsZeroValues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	summary := run.NewSummary("/runs/a")
	summary.PairedTurnPending = true
	require.NoError(t, s.Upsert(ctx, summary))

	summary.PairedTurnPending = false
	require.NoError(t, s.Upsert(ctx, summary))

	got, err := s.Get(ctx, "/runs/a")
	require.NoError(t, err)
	assert.False(t, got.PairedTurnPending)
}

func TestStore_GetNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "/runs/missing")
	assert.ErrorIs(t, err, run.ErrRunNotFound)

	_, err = s.GetByRunID(ctx, "missing")
	assert.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestStore_UpsertSameRunUnderTwoRoots(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := run.NewSummary("/data/rootA/240101_M001_0001_AFLOW")
	require.NoError(t, s.Upsert(ctx, first))

	mirror := run.NewSummary("/data/rootB/240101_M001_0001_AFLOW")
	err := s.Upsert(ctx, mirror)
	require.Error(t, err)
	assert.ErrorIs(t, err, run.ErrDuplicateRunID)
	assert.ErrorIs(t, err, run.ErrPersistence)
	assert.Contains(t, err.Error(), "/data/rootA/240101_M001_0001_AFLOW")
	assert.Zero(t, mirror.ID)

	exists, err := s.Exists(ctx, mirror.RunDirectory)
	require.NoError(t, err)
	assert.False(t, exists)

	// The original record still updates normally.
	first.CurrentCycle = 12
	require.NoError(t, s.Upsert(ctx, first))

	stored, err := s.GetByRunID(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.RunDirectory, stored.RunDirectory)
	assert.Equal(t, 12, stored.CurrentCycle)
}

func TestStore_Queries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fixtures := []struct {
		dir   string
		state run.State
	}{
		{dir: "/runs/240101_M001_0001_AFLOW", state: run.StateRunning},
		{dir: "/runs/240102_M001_0002_BFLOW", state: run.StateFinished},
		{dir: "/runs/240103_N500_0003_CFLOW", state: run.StateRunning},
		{dir: "/runs/240104_N500_0004_D_100%", state: run.StateHang},
	}

	for _, f := range fixtures {
		summary := run.NewSummary(f.dir)
		summary.State = f.state
		require.NoError(t, s.Upsert(ctx, summary))
	}

	running, err := s.ListByState(ctx, run.StateRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "240101_M001_0001_AFLOW", running[0].RunID)
	assert.Equal(t, "240103_N500_0003_CFLOW", running[1].RunID)

	byID, err := s.GetByRunID(ctx, "240102_M001_0002_BFLOW")
	require.NoError(t, err)
	assert.Equal(t, run.StateFinished, byID.State)

	found, err := s.Search(ctx, "N500")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	// Wildcards in the query match literally.
	found, err = s.Search(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, run.StateHang, found[0].State)

	found, err = s.Search(ctx, "_0001_")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
