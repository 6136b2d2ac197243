package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldhost.ai/internal/events"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.Notify(events.Event{Type: events.TypeCreated})
	s.Notify(events.Event{Type: events.TypeActivated})
	s.Notify(events.Event{Type: events.TypeUnloaded})

	st := s.Stats()
	assert.Equal(t, uint64(2), st.DropEventTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_IndexesLifecycle(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "index", "worlds.sqlite")
	idx, err := OpenSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	id := uuid.New()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := events.Event{WorldID: id, Name: "nether", Slot: 2, Dimension: "nether"}
	for i, typ := range []string{events.TypeCreated, events.TypeActivated, events.TypeUnloaded} {
		ev := base
		ev.ID = uuid.NewString()
		ev.Type = typ
		ev.At = at.Add(time.Duration(i) * time.Second)
		if typ == events.TypeCreated {
			ev.Actor = "ops"
		}
		idx.Notify(ev)
	}
	require.NoError(t, idx.Sync(ctx))

	worlds, err := idx.Worlds(ctx)
	require.NoError(t, err)
	require.Len(t, worlds, 1)
	w := worlds[0]
	assert.Equal(t, id.String(), w.UniqueID)
	assert.Equal(t, int32(2), w.DimensionSlot)
	assert.Equal(t, "nether", w.DimensionType)
	assert.Equal(t, "ops", w.CreatedBy)
	assert.Equal(t, events.TypeUnloaded, w.LastEvent)
	assert.False(t, w.Loaded)
	assert.Equal(t, at.Format(time.RFC3339Nano), w.FirstSeen)

	evs, err := idx.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeUnloaded, evs[0].Type)
	assert.Equal(t, events.TypeActivated, evs[1].Type)
	assert.Greater(t, evs[0].Seq, evs[1].Seq)
	assert.Contains(t, evs[0].RawJSON, `"name":"nether"`)
}

func TestSQLiteIndex_LoadedFlagAndReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "worlds.sqlite")
	idx, err := OpenSQLite(dbPath)
	require.NoError(t, err)

	id := uuid.New()
	idx.Notify(events.Event{Type: events.TypeActivated, WorldID: id, Name: "world", Slot: 0, Dimension: "overworld", At: time.Now()})
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
	idx.Notify(events.Event{Type: events.TypeUnloaded, WorldID: id})

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	worlds, err := QueryWorlds(ctx, db)
	require.NoError(t, err)
	require.Len(t, worlds, 1)
	assert.True(t, worlds[0].Loaded)

	evs, err := QueryEvents(ctx, db, 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
