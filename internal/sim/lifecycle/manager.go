package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"worldhost.ai/internal/events"
	"worldhost.ai/internal/persistence/worldstore"
	"worldhost.ai/internal/sim/dimension"
	"worldhost.ai/internal/sim/registry"
	"worldhost.ai/internal/sim/worldinfo"
)

type Options struct {
	// Root is the directory world folders live in. When set, names that refer
	// to a non-directory entry under Root are rejected.
	Root string

	Store     worldstore.Store
	Allocator *dimension.Allocator
	Engine    Engine
	Sink      events.Sink
	Logger    *zap.Logger
	Metrics   *Metrics

	// SingleInstance disables propagating the server game mode to worlds on
	// activation.
	SingleInstance bool
	// HostIdentity is recorded as creator of worlds synthesized at bootstrap
	// and of worlds created without an explicit creator.
	HostIdentity string

	PersistDebounce time.Duration
	Now             func() time.Time
}

// Manager creates, loads and unloads worlds. All mutations are serialized by
// one lock; lookups read registry snapshots without it.
type Manager struct {
	mu sync.Mutex

	root    string
	store   worldstore.Store
	alloc   *dimension.Allocator
	reg     *registry.Registry[*Handle]
	engine  Engine
	sink    events.Sink
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time

	single     bool
	host       string
	gameMode   worldinfo.GameMode
	difficulty worldinfo.Difficulty

	overworld *Handle

	persistDebounce time.Duration
	persistCh       chan struct{}
	persistFlush    chan chan struct{}
	persistStop     chan struct{}
	persistWG       sync.WaitGroup
	closeOnce       sync.Once
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: nil store")
	}
	if opts.Allocator == nil {
		opts.Allocator = dimension.New(dimension.Config{})
	}
	if opts.Engine == nil {
		opts.Engine = NopEngine
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PersistDebounce <= 0 {
		opts.PersistDebounce = 200 * time.Millisecond
	}
	if opts.HostIdentity == "" {
		opts.HostIdentity = "server"
	}
	m := &Manager{
		root:            opts.Root,
		store:           opts.Store,
		alloc:           opts.Allocator,
		reg:             registry.New[*Handle](),
		engine:          opts.Engine,
		sink:            opts.Sink,
		log:             opts.Logger.Named("lifecycle"),
		metrics:         opts.Metrics,
		now:             opts.Now,
		single:          opts.SingleInstance,
		host:            opts.HostIdentity,
		persistDebounce: opts.PersistDebounce,
		persistCh:       make(chan struct{}, 1),
		persistFlush:    make(chan chan struct{}),
		persistStop:     make(chan struct{}),
	}
	m.persistWG.Add(1)
	go m.persistLoop()
	return m, nil
}

// LoadByName activates the stored world called name. It returns (nil, nil)
// when no record exists. A world that is already loaded is returned as is.
func (m *Manager) LoadByName(ctx context.Context, name string) (h *Handle, err error) {
	defer func() { m.observe("load", err) }()
	if err := m.checkName("load", name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, "load", name, false)
}

// LoadByID loads a world by unique id through the name the registry last saw
// for it. Unknown ids yield (nil, nil).
func (m *Manager) LoadByID(ctx context.Context, id uuid.UUID) (*Handle, error) {
	if h, ok := m.reg.LookupByID(id); ok {
		return h, nil
	}
	name, ok := m.reg.FolderOf(id)
	if !ok {
		return nil, nil
	}
	h, err := m.LoadByName(ctx, name)
	if err != nil || h == nil {
		return h, err
	}
	if h.ID() != id {
		return nil, nil
	}
	return h, nil
}

// Create makes sure a durable record exists for s.Name and returns it. An
// existing record is returned unchanged, adopting it into the registry when
// needed; otherwise a new world is created with a fresh id and slot.
func (m *Manager) Create(ctx context.Context, s worldinfo.Settings) (rec *worldinfo.Record, err error) {
	defer func() { m.observe("create", err) }()
	if err := m.checkName("create", s.Name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err = m.createLocked(ctx, "create", s, dimension.NoPreference)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Build creates the world when needed and loads it.
func (m *Manager) Build(ctx context.Context, s worldinfo.Settings) (h *Handle, err error) {
	defer func() { m.observe("build", err) }()
	if err := m.checkName("build", s.Name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.reg.LookupByName(s.Name); ok {
		return h, nil
	}
	rec, err := m.createLocked(ctx, "build", s, dimension.NoPreference)
	if err != nil {
		return nil, err
	}
	return m.activateLocked(ctx, "build", rec, false)
}

// Unload deactivates a loaded world. It reports false when h is not the
// currently loaded handle for its world.
func (m *Manager) Unload(ctx context.Context, h *Handle) (ok bool, err error) {
	defer func() { m.observe("unload", err) }()
	if h == nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == m.overworld || h.record().IsOverworld() {
		return false, newError("unload", h.Name(), ErrCannotUnloadRoot, nil)
	}
	if cur, ok := m.reg.LookupByID(h.ID()); !ok || cur != h {
		return false, nil
	}
	if h.Dirty() {
		if err := m.saveLocked(h.record(), ""); err != nil {
			return false, newError("unload", h.Name(), ErrIO, err)
		}
		h.dirty.Store(false)
	}
	if err := m.engine.Deactivate(ctx, h); err != nil {
		return false, newError("unload", h.Name(), ErrActivation, err)
	}
	m.alloc.Release(h.Slot())
	m.reg.Unregister(h.ID())
	m.refreshGauges()
	m.log.Info("world unloaded", zap.String("world", h.Name()), zap.Int32("slot", h.Slot()))
	m.notify(events.TypeUnloaded, h.record(), "")
	return true, nil
}

// UpdateProperties applies fn to a copy of the world's record. Creation-time
// fields are restored after fn returns. Loaded worlds are persisted by the
// background flusher; known but unloaded worlds are written immediately.
func (m *Manager) UpdateProperties(ctx context.Context, id uuid.UUID, fn func(*worldinfo.Record)) (rec *worldinfo.Record, err error) {
	defer func() { m.observe("update", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.reg.LookupByID(id); ok {
		base := h.record()
		next := base.Clone()
		fn(next)
		next.KeepImmutable(base)
		h.publish(next)
		m.reg.PutProperties(next)
		m.schedulePersist()
		m.notify(events.TypeUpdated, next, "")
		return next.Clone(), nil
	}
	base, ok := m.reg.Properties(id)
	if !ok {
		return nil, newError("update", id.String(), ErrNotLoaded, nil)
	}
	next := base.Clone()
	fn(next)
	next.KeepImmutable(base)
	if err := m.saveLocked(next, ""); err != nil {
		return nil, newError("update", base.Name, ErrIO, err)
	}
	m.reg.PutProperties(next)
	m.notify(events.TypeUpdated, next, "")
	return next.Clone(), nil
}

// SetDifficultyForAll makes d the server difficulty and applies it to every
// loaded world. It returns how many records changed.
func (m *Manager) SetDifficultyForAll(d worldinfo.Difficulty) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.difficulty = d
	return m.updateAllLocked(func(r *worldinfo.Record) bool {
		if r.Difficulty == d {
			return false
		}
		r.Difficulty = d
		return true
	})
}

// SetGameModeForAll makes mode the server game mode and applies it to every
// loaded world.
func (m *Manager) SetGameModeForAll(mode worldinfo.GameMode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gameMode = mode
	return m.updateAllLocked(func(r *worldinfo.Record) bool {
		if r.GameMode == mode {
			return false
		}
		r.GameMode = mode
		return true
	})
}

// Difficulty returns the server difficulty, empty before bootstrap.
func (m *Manager) Difficulty() worldinfo.Difficulty {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.difficulty
}

func (m *Manager) ListLoaded() []*Handle { return m.reg.All() }

func (m *Manager) FindByID(id uuid.UUID) (*Handle, bool) { return m.reg.LookupByID(id) }

func (m *Manager) FindByName(name string) (*Handle, bool) { return m.reg.LookupByName(name) }

func (m *Manager) FindBySlot(slot int32) (*Handle, bool) { return m.reg.LookupBySlot(slot) }

// Known returns copies of every record registered in this process, loaded or
// not, sorted by name.
func (m *Manager) Known() []*worldinfo.Record {
	recs := m.reg.AllProperties()
	out := make([]*worldinfo.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

func (m *Manager) Overworld() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overworld
}

func (m *Manager) Allocator() *dimension.Allocator { return m.alloc }

func (m *Manager) checkName(op, name string) error {
	if err := worldinfo.ValidateName(name); err != nil {
		return newError(op, name, ErrInvalidName, err)
	}
	if m.root == "" {
		return nil
	}
	fi, err := os.Lstat(filepath.Join(m.root, name))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return newError(op, name, ErrIO, err)
	case !fi.IsDir():
		return newError(op, name, ErrNameCollision, fmt.Errorf("%s is a %s", filepath.Join(m.root, name), fi.Mode().Type()))
	}
	return nil
}

func (m *Manager) loadLocked(ctx context.Context, op, name string, root bool) (*Handle, error) {
	if h, ok := m.reg.LookupByName(name); ok {
		return h, nil
	}
	rec, ok, err := m.store.Load(name)
	if err != nil {
		return nil, newError(op, name, ErrIO, err)
	}
	if !ok {
		return nil, nil
	}
	return m.activateLocked(ctx, op, rec, root)
}

// activateLocked binds rec to a slot and registers it. The registry's copy of
// the record wins over rec when both describe the same world.
func (m *Manager) activateLocked(ctx context.Context, op string, rec *worldinfo.Record, root bool) (*Handle, error) {
	if known, ok := m.reg.Properties(rec.UniqueID); ok && known != rec {
		m.log.Debug("using registered properties over stored record",
			zap.String("world", rec.Name), zap.Stringer("id", rec.UniqueID))
		rec = known
	}
	if h, ok := m.reg.LookupByID(rec.UniqueID); ok {
		return h, nil
	}

	slot, fresh, err := m.resolveSlotLocked(op, rec, root)
	if err != nil {
		return nil, err
	}
	rollback := func() {
		if fresh {
			m.alloc.Release(slot)
		}
	}

	next := rec
	if slot != rec.DimensionSlot {
		next = next.Clone()
		next.DimensionSlot = slot
	}
	if !m.single && m.gameMode != "" && next.GameMode != m.gameMode {
		if next == rec {
			next = next.Clone()
		}
		next.GameMode = m.gameMode
	}
	if m.difficulty != "" && next.Difficulty != m.difficulty {
		if next == rec {
			next = next.Clone()
		}
		next.Difficulty = m.difficulty
	}
	h := newHandle(next, m.now())
	if next != rec {
		h.dirty.Store(true)
	}

	m.alloc.RegisterType(slot, next.DimensionType)
	if err := m.reg.Register(h); err != nil {
		rollback()
		m.log.Error("registry invariant breach", zap.String("op", op),
			zap.String("world", next.Name), zap.Int32("slot", slot), zap.Error(err))
		return nil, newError(op, next.Name, ErrAlreadyRegistered, err)
	}
	if err := m.engine.Activate(ctx, h); err != nil {
		m.reg.Unregister(h.ID())
		rollback()
		return nil, newError(op, next.Name, ErrActivation, err)
	}
	m.reg.PutProperties(next)
	if root {
		m.overworld = h
	}
	if h.Dirty() {
		m.schedulePersist()
	}
	m.refreshGauges()
	m.log.Info("world activated", zap.String("world", next.Name),
		zap.Stringer("id", next.UniqueID), zap.Int32("slot", slot),
		zap.String("dimension", string(next.DimensionType)))
	m.notify(events.TypeActivated, next, "")
	return h, nil
}

// resolveSlotLocked picks the slot for rec. The recorded slot is reused when it
// is free or already claimed by the same world. The root slot is only handed
// out to the overworld during bootstrap. fresh reports whether the claim was
// made by this call.
func (m *Manager) resolveSlotLocked(op string, rec *worldinfo.Record, root bool) (slot int32, fresh bool, err error) {
	preferred := rec.DimensionSlot
	if root {
		preferred = dimension.RootSlot
	} else if preferred == dimension.RootSlot {
		preferred = dimension.NoPreference
	}
	fresh = true
	if owner, ok := m.alloc.Owner(preferred); ok && owner == rec.UniqueID {
		fresh = false
	}
	slot, err = m.alloc.Reserve(rec.UniqueID, preferred)
	if err != nil {
		return 0, false, newError(op, rec.Name, ErrSlotExhausted, err)
	}
	if root && slot != dimension.RootSlot {
		m.alloc.Release(slot)
		owner, _ := m.alloc.Owner(dimension.RootSlot)
		return 0, false, newError(op, rec.Name, ErrAlreadyRegistered,
			fmt.Errorf("root slot claimed by %s", owner))
	}
	if slot != preferred {
		fresh = true
	}
	return slot, fresh, nil
}

func (m *Manager) createLocked(ctx context.Context, op string, s worldinfo.Settings, preferred int32) (*worldinfo.Record, error) {
	existing, ok, err := m.store.Load(s.Name)
	if err != nil {
		return nil, newError(op, s.Name, ErrIO, err)
	}
	if ok {
		if known, ok := m.reg.Properties(existing.UniqueID); ok {
			return known, nil
		}
		m.reg.PutProperties(existing)
		m.refreshGauges()
		m.log.Info("adopted stored world", zap.String("world", existing.Name),
			zap.Stringer("id", existing.UniqueID))
		return existing, nil
	}

	rec := worldinfo.NewRecord(s, 0, m.now())
	if rec.CreatedBy == "" {
		rec.CreatedBy = m.host
	}
	slot, err := m.alloc.Reserve(rec.UniqueID, preferred)
	if err != nil {
		return nil, newError(op, s.Name, ErrSlotExhausted, err)
	}
	rec.DimensionSlot = slot
	m.alloc.RegisterType(slot, rec.DimensionType)

	if err := m.saveLocked(rec, rec.CreatedBy); err != nil {
		m.alloc.Release(slot)
		return nil, newError(op, s.Name, ErrIO, err)
	}
	m.reg.PutProperties(rec)
	m.refreshGauges()
	m.log.Info("world created", zap.String("world", rec.Name),
		zap.Stringer("id", rec.UniqueID), zap.Int32("slot", slot), zap.String("by", rec.CreatedBy))
	m.notify(events.TypeCreated, rec, rec.CreatedBy)
	return rec, nil
}

func (m *Manager) updateAllLocked(fn func(*worldinfo.Record) bool) int {
	changed := 0
	for _, h := range m.reg.All() {
		next := h.record().Clone()
		if !fn(next) {
			continue
		}
		h.publish(next)
		m.reg.PutProperties(next)
		changed++
	}
	if changed > 0 {
		m.schedulePersist()
	}
	return changed
}

func (m *Manager) saveLocked(rec *worldinfo.Record, creator string) error {
	err := m.store.Save(rec, creator)
	m.metrics.save(err)
	return err
}

func (m *Manager) notify(typ string, rec *worldinfo.Record, actor string) {
	m.sink.Notify(events.Stamp(events.Event{
		Type:      typ,
		WorldID:   rec.UniqueID,
		Name:      rec.Name,
		Slot:      rec.DimensionSlot,
		Dimension: string(rec.DimensionType),
		Actor:     actor,
	}, m.now()))
}

func (m *Manager) observe(op string, err error) {
	m.metrics.op(op, err)
}

func (m *Manager) refreshGauges() {
	m.metrics.gauges(m.reg.Len(), m.reg.KnownLen(), len(m.alloc.Claimed()))
}
