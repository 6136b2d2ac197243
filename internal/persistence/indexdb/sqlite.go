package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worldhost.ai/internal/events"
)

// SQLiteIndex is a queryable secondary index of world lifecycle events. The
// durable world records remain the source of truth; events that arrive while
// the writer is behind are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
	writeErrs  atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSync
)

type req struct {
	kind reqKind
	ev   events.Event
	ack  chan struct{}
}

// Stats describes the writer queue.
type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropEventTotal uint64
	WriteErrTotal  uint64
}

// WorldRow is the indexed view of one world.
type WorldRow struct {
	UniqueID      string
	Name          string
	DimensionSlot int32
	DimensionType string
	CreatedBy     string
	FirstSeen     string
	LastEvent     string
	UpdatedAt     string
	Loaded        bool
}

// EventRow is one indexed lifecycle event.
type EventRow struct {
	Seq      int64
	At       string
	Type     string
	UniqueID string
	Name     string
	Slot     int32
	Actor    string
	RawJSON  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			unique_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			dimension_slot INTEGER NOT NULL,
			dimension_type TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			first_seen TEXT NOT NULL,
			last_event TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			loaded INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worlds_name ON worlds(name);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			type TEXT NOT NULL,
			unique_id TEXT NOT NULL,
			name TEXT NOT NULL,
			slot INTEGER NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_world ON lifecycle_events(unique_id, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Notify queues ev for indexing.
func (s *SQLiteIndex) Notify(ev events.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, ev: ev}:
	default:
		s.dropEvents.Add(1)
	}
}

// Sync waits until every event queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropEventTotal: s.dropEvents.Load(),
		WriteErrTotal:  s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO lifecycle_events(at,type,unique_id,name,slot,actor,raw_json) VALUES(?,?,?,?,?,?,?)`)
	upsertWorld, _ := s.db.Prepare(`INSERT INTO worlds(unique_id,name,dimension_slot,dimension_type,created_by,first_seen,last_event,updated_at,loaded)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(unique_id) DO UPDATE SET
			name=excluded.name,
			dimension_slot=excluded.dimension_slot,
			dimension_type=CASE WHEN excluded.dimension_type='' THEN worlds.dimension_type ELSE excluded.dimension_type END,
			created_by=CASE WHEN worlds.created_by='' THEN excluded.created_by ELSE worlds.created_by END,
			last_event=excluded.last_event,
			updated_at=excluded.updated_at,
			loaded=CASE excluded.last_event
				WHEN 'world.activated' THEN 1
				WHEN 'world.unloaded' THEN 0
				ELSE worlds.loaded END`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if upsertWorld != nil {
			_ = upsertWorld.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrs.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.ack)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		ev := r.ev
		at := ev.At.UTC().Format(time.RFC3339Nano)
		raw, _ := json.Marshal(ev)
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(at, ev.Type, ev.WorldID.String(), ev.Name, ev.Slot, ev.Actor, string(raw)); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if upsertWorld != nil {
			loaded := 0
			if ev.Type == events.TypeActivated {
				loaded = 1
			}
			createdBy := ""
			if ev.Type == events.TypeCreated {
				createdBy = ev.Actor
			}
			if _, err := tx.Stmt(upsertWorld).Exec(ev.WorldID.String(), ev.Name, ev.Slot, ev.Dimension, createdBy, at, ev.Type, at, loaded); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

// Worlds returns every indexed world ordered by name.
func (s *SQLiteIndex) Worlds(ctx context.Context) ([]WorldRow, error) {
	return QueryWorlds(ctx, s.db)
}

// Events returns the newest lifecycle events first.
func (s *SQLiteIndex) Events(ctx context.Context, limit int) ([]EventRow, error) {
	return QueryEvents(ctx, s.db, limit)
}

// QueryWorlds reads the worlds table of an index database, for example one
// opened read-only by an offline tool.
func QueryWorlds(ctx context.Context, db *sql.DB) ([]WorldRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT unique_id,name,dimension_slot,dimension_type,created_by,first_seen,last_event,updated_at,loaded FROM worlds ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorldRow
	for rows.Next() {
		var w WorldRow
		var loaded int
		if err := rows.Scan(&w.UniqueID, &w.Name, &w.DimensionSlot, &w.DimensionType, &w.CreatedBy, &w.FirstSeen, &w.LastEvent, &w.UpdatedAt, &loaded); err != nil {
			return nil, err
		}
		w.Loaded = loaded != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

func QueryEvents(ctx context.Context, db *sql.DB, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT seq,at,type,unique_id,name,slot,actor,raw_json FROM lifecycle_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Seq, &e.At, &e.Type, &e.UniqueID, &e.Name, &e.Slot, &e.Actor, &e.RawJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
