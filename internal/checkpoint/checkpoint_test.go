package checkpoint

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_SavePhaseThenResume(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "checkpoint.db")

	store, err := Open(ctx, dbPath, "run-1", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	mstore := mapping.New()
	mstore.ProjectMap[1] = "PRJ"
	mstore.Users[10] = 20
	mstore.CaseIDMapping[100] = 200

	require.NoError(t, store.SavePhase(ctx, PhaseProjects, mstore))

	phase, restored, ok, err := store.Resume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PhaseProjects, phase)
	require.Equal(t, "PRJ", restored.ProjectMap[1])
	require.Equal(t, 20, restored.Users[10])
	require.Equal(t, 200, restored.CaseIDMapping[100])
}

func TestStore_ResumeWithNoCheckpoint(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "checkpoint.db")

	store, err := Open(ctx, dbPath, "run-new", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	_, _, ok, err := store.Resume(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_SavePhaseOverwritesPreviousCheckpoint(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "checkpoint.db")

	store, err := Open(ctx, dbPath, "run-1", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	mstore := mapping.New()
	require.NoError(t, store.SavePhase(ctx, PhaseUsers, mstore))
	require.NoError(t, store.SavePhase(ctx, PhaseFields, mstore))

	phase, _, ok, err := store.Resume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PhaseFields, phase)
}
