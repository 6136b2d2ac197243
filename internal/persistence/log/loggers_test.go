package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldhost.ai/internal/events"
)

func readLines(t *testing.T, path string) []events.Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var out []events.Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestEventLogger_WritesHourlyFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir, nil)
	clock := time.Date(2024, 6, 1, 9, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	id := uuid.New()
	l.Notify(events.Event{Type: events.TypeCreated, WorldID: id, Name: "arena"})
	l.Notify(events.Event{Type: events.TypeActivated, WorldID: id, Name: "arena"})
	clock = clock.Add(2 * time.Minute)
	l.Notify(events.Event{Type: events.TypeUnloaded, WorldID: id, Name: "arena"})
	require.NoError(t, l.Close())

	first := readLines(t, filepath.Join(dir, "audit", "lifecycle-2024-06-01-09.jsonl.zst"))
	require.Len(t, first, 2)
	assert.Equal(t, events.TypeCreated, first[0].Type)
	assert.Equal(t, id, first[1].WorldID)

	second := readLines(t, filepath.Join(dir, "audit", "lifecycle-2024-06-01-10.jsonl.zst"))
	require.Len(t, second, 1)
	assert.Equal(t, events.TypeUnloaded, second[0].Type)
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "lifecycle")
		w.now = func() time.Time { return clock }
		require.NoError(t, w.Write(events.Event{Type: events.TypeUpdated, Name: "w"}))
		require.NoError(t, w.Close())
	}
	got := readLines(t, filepath.Join(dir, "lifecycle-2024-06-01-09.jsonl.zst"))
	assert.Len(t, got, 2)
}
