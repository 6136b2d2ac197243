package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"worldhost.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/lifecycle.sqlite)")
	limit := fs.Int("limit", 20, "result limit for events")
	_ = fs.Parse(args)

	q := "worlds"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "lifecycle.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := queryIndex(context.Background(), db, q, *limit, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func queryIndex(ctx context.Context, db *sql.DB, q string, limit int, emit func(any)) error {
	switch q {
	case "worlds":
		rows, err := indexdb.QueryWorlds(ctx, db)
		if err != nil {
			return fmt.Errorf("query worlds: %w", err)
		}
		for _, r := range rows {
			emit(r)
		}
	case "events":
		rows, err := indexdb.QueryEvents(ctx, db, limit)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		for _, r := range rows {
			emit(r)
		}
	default:
		return fmt.Errorf("unknown query %q (want worlds or events)", q)
	}
	return nil
}
