package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/songzhibin97/workflow-fsm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a sample definition
func newDefinition(id string) types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:   id,
		Name: "Test Workflow",
		States: []types.State{
			{ID: "draft", Name: "Draft", IsInitial: true, Enabled: true},
			{ID: "done", Name: "Done", IsFinal: true, Enabled: true},
		},
		Actions: []types.Action{
			{ID: "finish", Name: "Finish", Enabled: true, FromStates: []string{"draft"}, ToState: "done"},
		},
	}
}

// Helper function to create a sample instance
func newInstance(id string, version uint64) types.WorkflowInstance {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return types.WorkflowInstance{
		ID:                   id,
		WorkflowDefinitionID: "wf-1",
		CurrentStateID:       "draft",
		History:              []types.ActionHistory{{ActionID: "noop", Timestamp: ts}},
		Version:              version,
		CreatedAt:            ts.UnixMilli(),
		UpdatedAt:            ts.UnixMilli(),
	}
}

// runStorageContract exercises the behaviour every Storage implementation must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("SaveAndGetDefinition", func(t *testing.T) {
		store := newStore(t)
		def := newDefinition("wf-1")
		require.NoError(t, store.SaveDefinition(ctx, def))

		got, err := store.GetDefinition(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, def, got)

		_, err = store.GetDefinition(ctx, "missing")
		assert.ErrorIs(t, err, ErrDefinitionNotFound)
	})

	t.Run("SaveDefinitionOverwrites", func(t *testing.T) {
		store := newStore(t)
		def := newDefinition("wf-1")
		require.NoError(t, store.SaveDefinition(ctx, def))

		def.Name = "Renamed"
		require.NoError(t, store.SaveDefinition(ctx, def))

		got, err := store.GetDefinition(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)

		all, err := store.ListDefinitions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("ListDefinitionsSorted", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, store.SaveDefinition(ctx, newDefinition(id)))
		}
		all, err := store.ListDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "b", all[1].ID)
		assert.Equal(t, "c", all[2].ID)
	})

	t.Run("SaveAndGetInstance", func(t *testing.T) {
		store := newStore(t)
		inst := newInstance("i-1", 1)
		require.NoError(t, store.SaveInstance(ctx, inst))

		got, err := store.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, inst, got)

		_, err = store.GetInstance(ctx, "missing")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("UpdateInstanceCompareAndSwap", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveInstance(ctx, newInstance("i-1", 1)))

		next := newInstance("i-1", 2)
		next.CurrentStateID = "done"
		require.NoError(t, store.UpdateInstance(ctx, next, 1))

		stale := newInstance("i-1", 2)
		err := store.UpdateInstance(ctx, stale, 1)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := store.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, "done", got.CurrentStateID)
		assert.Equal(t, uint64(2), got.Version)

		err = store.UpdateInstance(ctx, newInstance("missing", 2), 1)
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("ListInstances", func(t *testing.T) {
		store := newStore(t)
		all, err := store.ListInstances(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		require.NoError(t, store.SaveInstance(ctx, newInstance("i-2", 1)))
		require.NoError(t, store.SaveInstance(ctx, newInstance("i-1", 1)))

		all, err = store.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "i-1", all[0].ID)
		assert.Equal(t, "i-2", all[1].ID)
	})

	t.Run("ConcurrentUpdatesSingleWinner", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveInstance(ctx, newInstance("i-1", 1)))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := store.UpdateInstance(ctx, newInstance("i-1", 2), 1); err == nil {
					atomic.AddInt32(&wins, 1)
				} else {
					assert.ErrorIs(t, err, ErrVersionConflict)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}
