package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"worldhost.ai/internal/sim/dimension"
	"worldhost.ai/internal/sim/lifecycle"
	"worldhost.ai/internal/sim/worldinfo"
)

const (
	EnvConfig = "WORLDHOST_CONFIG"
	EnvAddr   = "WORLDHOST_ADDR"
	EnvData   = "WORLDHOST_DATA"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Overworld  OverworldConfig  `yaml:"overworld" toml:"overworld"`
	Worlds     []WorldSpec      `yaml:"worlds" toml:"worlds"`
	Dimensions DimensionsConfig `yaml:"dimensions" toml:"dimensions"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Index      IndexConfig      `yaml:"index" toml:"index"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr" toml:"addr"`
	DataDir           string `yaml:"data_dir" toml:"data_dir"`
	SingleInstance    bool   `yaml:"single_instance" toml:"single_instance"`
	HostIdentity      string `yaml:"host_identity" toml:"host_identity"`
	PersistDebounceMS int    `yaml:"persist_debounce_ms" toml:"persist_debounce_ms"`
	// AutoLoad loads stored worlds flagged load_on_startup after the static list.
	AutoLoad bool `yaml:"auto_load" toml:"auto_load"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "console"
}

type OverworldConfig struct {
	Name              string         `yaml:"name" toml:"name"`
	Seed              int64          `yaml:"seed" toml:"seed"`
	Generator         string         `yaml:"generator" toml:"generator"`
	GeneratorSettings map[string]any `yaml:"generator_settings" toml:"generator_settings"`
	GameMode          string         `yaml:"game_mode" toml:"game_mode"`
	Difficulty        string         `yaml:"difficulty" toml:"difficulty"`
	Hardcore          bool           `yaml:"hardcore" toml:"hardcore"`
	MapFeatures       *bool          `yaml:"map_features" toml:"map_features"`
}

// WorldSpec declares a static world loaded after the overworld.
type WorldSpec struct {
	Name      string `yaml:"name" toml:"name"`
	Dimension string `yaml:"dimension" toml:"dimension"`
	// Slot is the preferred slot when the world is first created. Nil picks
	// the lowest free dynamic slot.
	Slot *int32 `yaml:"slot" toml:"slot"`
	// Seed defaults to the overworld seed. The generator is always the
	// overworld's.
	Seed    *int64 `yaml:"seed" toml:"seed"`
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
}

type DimensionsConfig struct {
	Reserved []int32 `yaml:"reserved" toml:"reserved"`
	MaxSlot  int32   `yaml:"max_slot" toml:"max_slot"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // file|badger
}

type IndexConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // sqlite|none
}

type NotifyConfig struct {
	NATSURL     string `yaml:"nats_url" toml:"nats_url"`
	NATSSubject string `yaml:"nats_subject" toml:"nats_subject"`
	AuditLog    bool   `yaml:"audit_log" toml:"audit_log"`
}

// Load reads path, or the file named by WORLDHOST_CONFIG when path is empty.
// Files ending in .toml are decoded as TOML, everything else as YAML. With no
// file at all the defaults are returned.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfig)
	}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := decode(path, b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.NewDecoder(bytes.NewReader(b)).Decode(cfg)
		return err
	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			DataDir:           "./data",
			HostIdentity:      "server",
			PersistDebounceMS: 200,
			AutoLoad:          true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Overworld: OverworldConfig{
			Name:       worldinfo.DefaultWorldName,
			Seed:       worldinfo.DefaultSeed,
			Generator:  worldinfo.DefaultGeneratorType,
			GameMode:   string(worldinfo.GameModeSurvival),
			Difficulty: string(worldinfo.DifficultyNormal),
		},
		Dimensions: DimensionsConfig{
			Reserved: append([]int32(nil), dimension.DefaultReserved...),
			MaxSlot:  dimension.DefaultMaxSlot,
		},
		Store:  StoreConfig{Backend: "file"},
		Index:  IndexConfig{Backend: "sqlite"},
		Notify: NotifyConfig{NATSSubject: "worldhost.lifecycle", AuditLog: true},
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvData)); v != "" {
		c.Server.DataDir = v
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Index.Backend == "" {
		c.Index.Backend = "none"
	}
	if strings.TrimSpace(c.Server.HostIdentity) == "" {
		c.Server.HostIdentity = "server"
	}
	if c.Server.PersistDebounceMS <= 0 {
		c.Server.PersistDebounceMS = 200
	}
	if c.Overworld.Generator == "" {
		c.Overworld.Generator = worldinfo.DefaultGeneratorType
	}
	if c.Dimensions.MaxSlot == 0 {
		c.Dimensions.MaxSlot = dimension.DefaultMaxSlot
	}
	for i := range c.Worlds {
		c.Worlds[i].Name = strings.TrimSpace(c.Worlds[i].Name)
		if c.Worlds[i].Dimension == "" {
			c.Worlds[i].Dimension = string(worldinfo.DimensionOverworld)
		}
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.DataDir) == "" {
		return fmt.Errorf("server.data_dir must not be empty")
	}
	switch c.Store.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("store.backend %q: want file or badger", c.Store.Backend)
	}
	switch c.Index.Backend {
	case "sqlite", "none":
	default:
		return fmt.Errorf("index.backend %q: want sqlite or none", c.Index.Backend)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format %q: want json or console", c.Logging.Format)
	}
	if _, err := c.OverworldSettings(); err != nil {
		return err
	}
	reserved := map[int32]bool{}
	for _, s := range c.Dimensions.Reserved {
		reserved[s] = true
	}
	if !reserved[dimension.RootSlot] {
		return fmt.Errorf("dimensions.reserved must include the root slot %d", dimension.RootSlot)
	}
	seen := map[string]bool{c.Overworld.Name: true}
	slots := map[int32]string{}
	for i, w := range c.Worlds {
		if err := worldinfo.ValidateName(w.Name); err != nil {
			return fmt.Errorf("worlds[%d]: %w", i, err)
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate world name: %s", w.Name)
		}
		seen[w.Name] = true
		if _, err := worldinfo.ParseDimensionType(w.Dimension); err != nil {
			return fmt.Errorf("world %s: %w", w.Name, err)
		}
		if w.Slot == nil {
			continue
		}
		if *w.Slot == dimension.RootSlot {
			return fmt.Errorf("world %s: slot %d belongs to the overworld", w.Name, dimension.RootSlot)
		}
		if *w.Slot > c.Dimensions.MaxSlot {
			return fmt.Errorf("world %s: slot %d above dimensions.max_slot", w.Name, *w.Slot)
		}
		if prev, ok := slots[*w.Slot]; ok {
			return fmt.Errorf("worlds %s and %s share slot %d", prev, w.Name, *w.Slot)
		}
		slots[*w.Slot] = w.Name
	}
	return nil
}

func (c Config) PersistDebounce() time.Duration {
	return time.Duration(c.Server.PersistDebounceMS) * time.Millisecond
}

func (c Config) Allocator() dimension.Config {
	return dimension.Config{
		Reserved: append([]int32(nil), c.Dimensions.Reserved...),
		MaxSlot:  c.Dimensions.MaxSlot,
	}
}

func (c Config) OverworldSettings() (worldinfo.Settings, error) {
	o := c.Overworld
	b := worldinfo.NewBuilder().
		Name(o.Name).
		Seed(o.Seed).
		Generator(o.Generator).
		GeneratorSettings(o.GeneratorSettings).
		Hardcore(o.Hardcore).
		Dimension(worldinfo.DimensionOverworld).
		Creator(c.Server.HostIdentity)
	if o.MapFeatures != nil {
		b.MapFeatures(*o.MapFeatures)
	}
	if o.GameMode != "" {
		gm, err := worldinfo.ParseGameMode(o.GameMode)
		if err != nil {
			return worldinfo.Settings{}, fmt.Errorf("overworld: %w", err)
		}
		b.GameMode(gm)
	}
	if o.Difficulty != "" {
		d, err := worldinfo.ParseDifficulty(o.Difficulty)
		if err != nil {
			return worldinfo.Settings{}, fmt.Errorf("overworld: %w", err)
		}
		b.Difficulty(d)
	}
	s, err := b.Settings()
	if err != nil {
		return worldinfo.Settings{}, fmt.Errorf("overworld: %w", err)
	}
	return s, nil
}

// Bootstrap converts the configuration into the manager's startup plan.
func (c Config) Bootstrap() (lifecycle.BootstrapSpec, error) {
	over, err := c.OverworldSettings()
	if err != nil {
		return lifecycle.BootstrapSpec{}, err
	}
	spec := lifecycle.BootstrapSpec{Overworld: over, AutoLoad: c.Server.AutoLoad}
	for _, w := range c.Worlds {
		dt, err := worldinfo.ParseDimensionType(w.Dimension)
		if err != nil {
			return lifecycle.BootstrapSpec{}, fmt.Errorf("world %s: %w", w.Name, err)
		}
		enabled := w.Enabled == nil || *w.Enabled
		seed := over.Seed
		if w.Seed != nil {
			seed = *w.Seed
		}
		s, err := worldinfo.NewBuilder().
			Name(w.Name).
			Seed(seed).
			Generator(over.GeneratorType).
			GeneratorSettings(over.GeneratorSettings).
			MapFeatures(over.MapFeatures).
			Dimension(dt).
			Enabled(enabled).
			GameMode(over.GameMode).
			Difficulty(over.Difficulty).
			Creator(c.Server.HostIdentity).
			Settings()
		if err != nil {
			return lifecycle.BootstrapSpec{}, fmt.Errorf("world %s: %w", w.Name, err)
		}
		slot := dimension.NoPreference
		if w.Slot != nil {
			slot = *w.Slot
		}
		spec.Worlds = append(spec.Worlds, lifecycle.StaticWorld{Settings: s, Slot: slot})
	}
	return spec, nil
}
