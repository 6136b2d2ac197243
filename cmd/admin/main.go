package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"worldhost.ai/internal/events"
	"worldhost.ai/internal/persistence/worldstore"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

server commands (HTTP, loopback admin API):
  list        loaded worlds
  known       every record the server has seen
  create      create a world (-name, -seed, -dimension, -load)
  load        load a stored world (-name)
  unload      unload a world (-name)
  difficulty  set difficulty on every loaded world (-value)
  flush       write dirty records now

offline commands (read the data directory):
  inspect     print stored world records
  db          query the lifecycle index (worlds|events)
  audit       print audit log events`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "list":
		getCmd("list", "/admin/v1/worlds", args)
	case "known":
		getCmd("known", "/admin/v1/worlds/known", args)
	case "create":
		createCmd(args)
	case "load", "unload":
		worldActionCmd(os.Args[1], args)
	case "difficulty":
		difficultyCmd(args)
	case "flush":
		postCmd("flush", "/admin/v1/flush", args)
	case "inspect":
		inspectCmd(args)
	case "db":
		dbCmd(args)
	case "audit":
		auditCmd(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	backend := fs.String("store", "file", "store backend: file|badger")
	name := fs.String("name", "", "world name (default: all)")
	_ = fs.Parse(args)

	var (
		st  worldstore.Store
		err error
	)
	switch *backend {
	case "badger":
		st, err = worldstore.OpenBadger(filepath.Join(*dataDir, "badger"))
	case "file":
		st, err = worldstore.NewFileStore(filepath.Join(*dataDir, "worlds"))
	default:
		fmt.Fprintln(os.Stderr, "unknown -store:", *backend)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	var names []string
	if n := strings.TrimSpace(*name); n != "" {
		names = []string{n}
	}
	if err := inspect(st, names, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

// inspect prints one JSON record per line. With no names it prints every
// stored record.
func inspect(st worldstore.Store, names []string, w io.Writer) error {
	if len(names) == 0 {
		all, err := st.List()
		if err != nil {
			return err
		}
		names = all
	}
	enc := json.NewEncoder(w)
	for _, n := range names {
		rec, ok, err := st.Load(n)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		if !ok {
			return fmt.Errorf("%s: no stored record", n)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world name filter")
	typ := fs.String("type", "", "event type filter, e.g. world.created")
	_ = fs.Parse(args)

	evs, err := readAudit(filepath.Join(*dataDir, "audit"), auditFilter{World: *world, Type: *typ})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	for _, ev := range evs {
		printJSON(ev)
	}
}

type auditFilter struct {
	World string
	Type  string
}

func (f auditFilter) match(ev events.Event) bool {
	if f.World != "" && ev.Name != f.World {
		return false
	}
	return f.Type == "" || ev.Type == f.Type
}

// readAudit decodes the hourly lifecycle audit files in name order.
func readAudit(dir string, filter auditFilter) ([]events.Event, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "lifecycle-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []events.Event
	for _, name := range names {
		evs, err := readAuditFile(filepath.Join(dir, name), filter)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

func readAuditFile(path string, filter auditFilter) ([]events.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []events.Event
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if filter.match(ev) {
			out = append(out, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
