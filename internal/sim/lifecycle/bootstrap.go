package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"worldhost.ai/internal/sim/dimension"
	"worldhost.ai/internal/sim/worldinfo"
)

// StaticWorld is a world declared in configuration. Slot is only used when the
// world has to be created; dimension.NoPreference picks the next free slot.
type StaticWorld struct {
	Settings worldinfo.Settings
	Slot     int32
}

type BootstrapSpec struct {
	// Overworld is loaded first at the root slot, or created from these
	// settings when no record exists. Its game mode and difficulty become the
	// server settings and are applied to every world as it activates.
	Overworld worldinfo.Settings
	Worlds    []StaticWorld
	// AutoLoad also loads stored worlds flagged load-on-startup.
	AutoLoad bool
	// Progress receives coarse status messages.
	Progress func(msg string)
}

// Bootstrap loads the overworld, then the static worlds in declaration order,
// then stored worlds marked load-on-startup in name order. Only an overworld
// failure is returned; other worlds that fail are logged and skipped.
func (m *Manager) Bootstrap(ctx context.Context, spec BootstrapSpec) (handles []*Handle, err error) {
	defer func() { m.observe("bootstrap", err) }()
	progress := spec.Progress
	if progress == nil {
		progress = func(string) {}
	}

	m.mu.Lock()
	if spec.Overworld.GameMode != "" {
		m.gameMode = spec.Overworld.GameMode
	}
	if spec.Overworld.Difficulty != "" {
		m.difficulty = spec.Overworld.Difficulty
	}
	m.mu.Unlock()

	progress("menu.loadingLevel")
	over, err := m.ensureLoaded(ctx, spec.Overworld, dimension.RootSlot, true)
	if err != nil {
		return nil, err
	}
	if over.Slot() != dimension.RootSlot {
		return nil, newError("bootstrap", over.Name(), ErrAlreadyRegistered,
			fmt.Errorf("overworld already loaded at slot %d", over.Slot()))
	}
	handles = append(handles, over)
	progress("overworld loaded")

	for _, w := range spec.Worlds {
		if !w.Settings.Enabled {
			m.log.Info("static world disabled", zap.String("world", w.Settings.Name))
			continue
		}
		h, err := m.ensureLoaded(ctx, w.Settings, w.Slot, false)
		if err != nil {
			m.log.Warn("skipping world", zap.String("world", w.Settings.Name), zap.Error(err))
			continue
		}
		if h != nil && !contains(handles, h) {
			handles = append(handles, h)
		}
	}

	if spec.AutoLoad {
		handles = append(handles, m.autoLoad(ctx, handles)...)
	}

	diff := spec.Overworld.Difficulty
	if diff == "" {
		diff = over.record().Difficulty
	}
	if n := m.SetDifficultyForAll(diff); n > 0 {
		m.log.Info("difficulty propagated", zap.String("difficulty", string(diff)), zap.Int("worlds", n))
	}
	m.log.Info("bootstrap complete", zap.Int("worlds", len(handles)))
	return handles, nil
}

// ensureLoaded loads s.Name, synthesizing and persisting a record first when
// none exists. Stored worlds that are disabled are skipped unless root.
func (m *Manager) ensureLoaded(ctx context.Context, s worldinfo.Settings, slot int32, root bool) (*Handle, error) {
	if err := m.checkName("bootstrap", s.Name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.reg.LookupByName(s.Name); ok {
		return h, nil
	}
	rec, ok, err := m.store.Load(s.Name)
	if err != nil {
		return nil, newError("bootstrap", s.Name, ErrIO, err)
	}
	if !ok {
		if s.Creator == "" {
			s.Creator = m.host
		}
		if root {
			s.DimensionType = worldinfo.DimensionOverworld
		}
		if rec, err = m.createLocked(ctx, "bootstrap", s, slot); err != nil {
			return nil, err
		}
	} else if !rec.Enabled && !root {
		m.log.Info("stored world disabled", zap.String("world", rec.Name))
		return nil, nil
	}
	return m.activateLocked(ctx, "bootstrap", rec, root)
}

func (m *Manager) autoLoad(ctx context.Context, loaded []*Handle) []*Handle {
	names, err := m.store.List()
	if err != nil {
		m.log.Warn("list stored worlds", zap.Error(err))
		return nil
	}
	var out []*Handle
	for _, name := range names {
		if _, ok := m.reg.LookupByName(name); ok {
			continue
		}
		h, err := m.loadOnStartup(ctx, name)
		if err != nil {
			m.log.Warn("skipping world", zap.String("world", name), zap.Error(err))
			continue
		}
		if h != nil && !contains(loaded, h) && !contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager) loadOnStartup(ctx context.Context, name string) (*Handle, error) {
	if err := m.checkName("bootstrap", name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok, err := m.store.Load(name)
	if err != nil {
		return nil, newError("bootstrap", name, ErrIO, err)
	}
	if !ok || !rec.Enabled || !rec.LoadOnStartup {
		return nil, nil
	}
	return m.activateLocked(ctx, "bootstrap", rec, false)
}

func contains(hs []*Handle, h *Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
