package worldstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"worldhost.ai/internal/sim/worldinfo"
)

// Store reads and writes durable world records by name.
type Store interface {
	// Load returns (nil, false, nil) when no record exists under name.
	Load(name string) (*worldinfo.Record, bool, error)
	// Save writes rec atomically. creator becomes CreatedBy when rec carries
	// none and no earlier record supplies one.
	Save(rec *worldinfo.Record, creator string) error
	// List returns the names of every stored record.
	List() ([]string, error)
	Close() error
}

const (
	recordFile = "level.json.zst"
	tmpSuffix  = ".tmp"
)

// FileStore keeps each record at <root>/<name>/level.json.zst.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("worldstore: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string { return s.root }

// Path returns the record file for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.root, name, recordFile)
}

func (s *FileStore) Load(name string) (*worldinfo.Record, bool, error) {
	if err := worldinfo.ValidateName(name); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("worldstore: read %q: %w", name, err)
	}
	rec, err := Decode(b)
	if err != nil {
		return nil, false, fmt.Errorf("worldstore: %q: %w", name, err)
	}
	if rec.Name != name {
		return nil, false, fmt.Errorf("worldstore: %q: %w: stored under name %q", name, ErrCorrupt, rec.Name)
	}
	return rec, true, nil
}

func (s *FileStore) Save(rec *worldinfo.Record, creator string) error {
	if rec == nil {
		return errors.New("worldstore: nil record")
	}
	if err := worldinfo.ValidateName(rec.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := stampCreator(rec, creator, s.Load)
	if err != nil {
		return err
	}
	b, err := Encode(out)
	if err != nil {
		return err
	}

	path := s.Path(rec.Name)
	dir := filepath.Dir(path)
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("worldstore: mkdir %q: %w", rec.Name, err)
	}
	if os.IsNotExist(statErr) {
		if err := syncDir(s.root); err != nil {
			return fmt.Errorf("worldstore: sync %q: %w", s.root, err)
		}
	}
	tmp := path + tmpSuffix
	if err := writeFileSync(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("worldstore: write %q: %w", rec.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("worldstore: rename %q: %w", rec.Name, err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("worldstore: sync %q: %w", rec.Name, err)
	}
	return nil
}

func (s *FileStore) List() ([]string, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() || worldinfo.ValidateName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(s.Path(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Close() error { return nil }

func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir makes renames and new entries in dir durable.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// stampCreator returns the record to encode. CreatedBy is kept from rec, then
// from the previously stored record, and only then taken from creator.
func stampCreator(rec *worldinfo.Record, creator string, load func(string) (*worldinfo.Record, bool, error)) (*worldinfo.Record, error) {
	if rec.CreatedBy != "" {
		return rec, nil
	}
	prev, ok, err := load(rec.Name)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return nil, err
	}
	out := rec.Clone()
	switch {
	case ok && prev.UniqueID == rec.UniqueID:
		out.CreatedBy = prev.CreatedBy
	default:
		out.CreatedBy = creator
	}
	if out.CreatedBy == "" {
		return rec, nil
	}
	return out, nil
}
