package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func TestFileStore_SaveAndLoadRecord(t *testing.T) {
	t.Parallel()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	record := interfaces.NewEnvironmentRecord("staging", interfaces.OperationDeploy)
	record.LastStepIndex = 2
	record.LastStepName = "configure-cluster-access"
	record.SetOutput(interfaces.OutputClusterName, "staging-cluster")
	record.SetOutput(interfaces.OutputRegion, "us-east-1")

	require.NoError(t, store.SaveRecord(ctx, record))

	loaded, err := store.LoadRecord(ctx, "staging")
	require.NoError(t, err)

	assert.Equal(t, "staging", loaded.Environment)
	assert.Equal(t, interfaces.OperationDeploy, loaded.Operation)
	assert.Equal(t, 2, loaded.LastStepIndex)
	assert.Equal(t, "configure-cluster-access", loaded.LastStepName)
	assert.Equal(t, "staging-cluster", loaded.Outputs[interfaces.OutputClusterName])
	assert.Equal(t, interfaces.RecordSchemaVersion, loaded.SchemaVersion)
	assert.WithinDuration(t, record.UpdatedAt, loaded.UpdatedAt, time.Second)
}

func TestFileStore_LoadRecordNotFound(t *testing.T) {
	t.Parallel()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadRecord(context.Background(), "nonexistent")
	require.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestFileStore_SaveRecordValidation(t *testing.T) {
	t.Parallel()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	require.Error(t, store.SaveRecord(ctx, nil))
	require.Error(t, store.SaveRecord(ctx, &interfaces.EnvironmentRecord{}))
}

func TestFileStore_OverwriteRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	first := interfaces.NewEnvironmentRecord("staging", interfaces.OperationDeploy)
	first.LastStepIndex = 0
	require.NoError(t, store.SaveRecord(ctx, first))

	second := interfaces.NewEnvironmentRecord("staging", interfaces.OperationDeploy)
	second.LastStepIndex = 3
	require.NoError(t, store.SaveRecord(ctx, second))

	loaded, err := store.LoadRecord(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.LastStepIndex)

	// No temp files left behind by the atomic write
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}

func TestFileStore_DeleteRecord(t *testing.T) {
	t.Parallel()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	record := interfaces.NewEnvironmentRecord("staging", interfaces.OperationDeploy)
	require.NoError(t, store.SaveRecord(ctx, record))

	require.NoError(t, store.DeleteRecord(ctx, "staging"))

	_, err = store.LoadRecord(ctx, "staging")
	require.ErrorIs(t, err, interfaces.ErrRecordNotFound)

	// Deleting again is a no-op
	require.NoError(t, store.DeleteRecord(ctx, "staging"))
}

func TestFileStore_ListEnvironments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	environments, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Empty(t, environments)

	for _, name := range []string{"production", "staging", "dev"} {
		require.NoError(t, store.SaveRecord(ctx, interfaces.NewEnvironmentRecord(name, interfaces.OperationDeploy)))
	}

	// Unrelated files and directories are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "locks"), 0o700))

	environments, err = store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "production", "staging"}, environments)
}

func TestFileStore_SanitizesEnvironmentName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	record := interfaces.NewEnvironmentRecord("../escape", interfaces.OperationDeploy)
	require.NoError(t, store.SaveRecord(ctx, record))

	// Record file stays inside the state directory
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "..")

	loaded, err := store.LoadRecord(ctx, "../escape")
	require.NoError(t, err)
	assert.Equal(t, "../escape", loaded.Environment)
}

func TestFileStore_Ping(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	require.Error(t, store.Ping(context.Background()))
}

func TestNewFileStore_RequiresDirectory(t *testing.T) {
	t.Parallel()
	_, err := NewFileStore("")
	require.Error(t, err)
}
