package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/eventrelay/pkg/common"
)

func TestReadModelSaveAndGet(t *testing.T) {
	store := NewReadModelStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "task_board", "p1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	record := &common.ReadModelRecord{
		Kind:    "task_board",
		Key:     "p1",
		Data:    []byte(`{"todo_count":1}`),
		Version: 1,
	}
	require.NoError(t, store.Save(ctx, record, 0))

	got, err := store.Get(ctx, "task_board", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.JSONEq(t, `{"todo_count":1}`, string(got.Data))
	assert.False(t, got.LastUpdated.IsZero())
}

func TestReadModelKindsAreIsolated(t *testing.T) {
	store := NewReadModelStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &common.ReadModelRecord{
		Kind: "task_board", Key: "p1", Data: []byte(`{}`), Version: 1,
	}, 0))

	_, err := store.Get(ctx, "project_overview", "p1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReadModelOptimisticVersioning(t *testing.T) {
	store := NewReadModelStore()
	ctx := context.Background()

	first := &common.ReadModelRecord{Kind: "task_board", Key: "p1", Data: []byte(`{"v":1}`), Version: 1}
	require.NoError(t, store.Save(ctx, first, 0))

	// Creating again over an existing record conflicts.
	err := store.Save(ctx, first, 0)
	assert.ErrorIs(t, err, common.ErrVersionConflict)

	// Updating with the current version succeeds.
	second := &common.ReadModelRecord{Kind: "task_board", Key: "p1", Data: []byte(`{"v":2}`), Version: 2}
	require.NoError(t, store.Save(ctx, second, 1))

	// Updating with a stale version conflicts and leaves the record alone.
	stale := &common.ReadModelRecord{Kind: "task_board", Key: "p1", Data: []byte(`{"v":9}`), Version: 2}
	err = store.Save(ctx, stale, 1)
	assert.ErrorIs(t, err, common.ErrVersionConflict)

	got, err := store.Get(ctx, "task_board", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"v":2}`, string(got.Data))
}
