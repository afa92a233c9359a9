package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_SchemaVersion(t *testing.T) {
	m := setupTestManager(t)
	v, err := m.db.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(CurrentSchemaVersion), v)
	assert.Contains(t, m.db.Path(), DBFileName)
}

func TestManager_RecordAndListHistory(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	for _, s := range []update.State{update.AbortNoUpdate, update.AbortDeclined, update.StateReadyToInstall} {
		require.NoError(t, m.RecordOutcome(ctx, update.Outcome{SessionID: s.String(), State: s}))
	}

	records, err := m.ListHistory(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, update.StateReadyToInstall, records[0].State, "newest first")
	assert.Equal(t, update.AbortNoUpdate, records[2].State)
	assert.NotEmpty(t, records[0].ID)

	outcomes, err := m.ListOutcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "aborted_declined", outcomes[1].SessionID)
}

func TestManager_PruneHistory(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, update.Outcome{Message: string(rune('a' + i))}))
	}

	removed, err := m.PruneHistory(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	records, err := m.ListHistory(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "e", records[0].Message)
	assert.Equal(t, "d", records[1].Message)

	removed, err = m.PruneHistory(10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManager_Globals(t *testing.T) {
	m := setupTestManager(t)

	_, found, err := m.GetGlobal("theme")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.SetGlobal("theme", json.RawMessage(`"dark"`)))
	require.NoError(t, m.SetGlobal("window", json.RawMessage(`{"w":800,"h":600}`)))
	assert.Error(t, m.SetGlobal("bad", json.RawMessage(`{nope`)))
	assert.Error(t, m.SetGlobal("", json.RawMessage(`1`)))

	v, found, err := m.GetGlobal("theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `"dark"`, string(v))

	all, err := m.ListGlobals()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, m.DeleteGlobal("theme"))
	require.NoError(t, m.DeleteGlobal("theme"))
	_, found, err = m.GetGlobal("theme")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_Reopen(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	require.NoError(t, m.SetGlobal("k", json.RawMessage(`1`)))
	require.NoError(t, m.Close())

	m, err = NewManager(dir, nil)
	require.NoError(t, err)
	defer m.Close()
	v, found, err := m.GetGlobal("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))
}
