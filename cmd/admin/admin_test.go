package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"worldhost.ai/internal/events"
	"worldhost.ai/internal/persistence/indexdb"
	persistlog "worldhost.ai/internal/persistence/log"
	"worldhost.ai/internal/persistence/worldstore"
	"worldhost.ai/internal/sim/worldinfo"
)

func TestInspect(t *testing.T) {
	st, err := worldstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	for i, name := range []string{"world", "arena"} {
		s, err := worldinfo.NewBuilder().Name(name).Settings()
		require.NoError(t, err)
		require.NoError(t, st.Save(worldinfo.NewRecord(s, int32(i*2), time.Now()), "ops"))
	}

	var buf bytes.Buffer
	require.NoError(t, inspect(st, nil, &buf))
	dec := json.NewDecoder(&buf)
	var names []string
	for dec.More() {
		var rec worldinfo.Record
		require.NoError(t, dec.Decode(&rec))
		assert.Equal(t, "ops", rec.CreatedBy)
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"arena", "world"}, names)

	buf.Reset()
	require.Error(t, inspect(st, []string{"missing"}, &buf))
}

func TestReadAudit(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewEventLogger(dir, zap.NewNop())
	id := uuid.New()
	for _, typ := range []string{events.TypeCreated, events.TypeActivated, events.TypeUnloaded} {
		l.Notify(events.Stamp(events.Event{Type: typ, WorldID: id, Name: "arena"}, time.Now()))
	}
	l.Notify(events.Stamp(events.Event{Type: events.TypeActivated, Name: "world"}, time.Now()))
	require.NoError(t, l.Close())

	all, err := readAudit(filepath.Join(dir, "audit"), auditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	arena, err := readAudit(filepath.Join(dir, "audit"), auditFilter{World: "arena", Type: events.TypeActivated})
	require.NoError(t, err)
	require.Len(t, arena, 1)
	assert.Equal(t, id, arena[0].WorldID)
}

func TestQueryIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	require.NoError(t, err)
	idx.Notify(events.Stamp(events.Event{Type: events.TypeCreated, WorldID: uuid.New(), Name: "arena", Slot: 2, Dimension: "overworld", Actor: "ops"}, time.Now()))
	require.NoError(t, idx.Sync(context.Background()))
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var got []any
	emit := func(v any) { got = append(got, v) }
	require.NoError(t, queryIndex(context.Background(), db, "worlds", 10, emit))
	require.Len(t, got, 1)
	assert.Equal(t, "arena", got[0].(indexdb.WorldRow).Name)

	got = nil
	require.NoError(t, queryIndex(context.Background(), db, "events", 10, emit))
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeCreated, got[0].(indexdb.EventRow).Type)

	require.Error(t, queryIndex(context.Background(), db, "snapshots", 10, emit))
}

func TestClient(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin/v1/worlds" && r.Method == http.MethodPost {
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, &gotBody)
			assert.Equal(t, "1", r.URL.Query().Get("load"))
			rw.WriteHeader(http.StatusCreated)
			_, _ = rw.Write([]byte(`{"ok":true}`))
			return
		}
		rw.WriteHeader(http.StatusForbidden)
		_, _ = rw.Write([]byte(`{"ok":false,"error":"E_CANNOT_UNLOAD_ROOT"}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL + "/")
	b, err := c.do(http.MethodPost, "/admin/v1/worlds?load=1", createBody("arena", 9, "nether", "", "ops"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(b))
	assert.Equal(t, map[string]any{"name": "arena", "seed": float64(9), "dimension": "nether", "creator": "ops"}, gotBody)

	b, err = c.do(http.MethodPost, "/admin/v1/worlds/world/unload", nil)
	require.Error(t, err)
	assert.Contains(t, string(b), "E_CANNOT_UNLOAD_ROOT")
}
