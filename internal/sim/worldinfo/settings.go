package worldinfo

// Settings are the inputs for creating a world.
type Settings struct {
	Name              string
	Seed              int64
	GameMode          GameMode
	Difficulty        Difficulty
	DimensionType     DimensionType
	GeneratorType     string
	GeneratorSettings map[string]any
	MapFeatures       bool
	Hardcore          bool
	Enabled           bool
	LoadOnStartup     bool
	KeepLoaded        bool

	// Creator is recorded as CreatedBy on the first durable write.
	Creator string
}

const (
	DefaultWorldName     = "world"
	DefaultSeed          = int64(1234567890)
	DefaultGeneratorType = "default"
)

// Builder assembles Settings fluently. The zero value is not ready for use;
// start from NewBuilder.
type Builder struct {
	s Settings
}

func NewBuilder() *Builder {
	b := &Builder{}
	return b.Reset()
}

func BuilderFromSettings(s Settings) *Builder {
	s.GeneratorSettings = cloneSettings(s.GeneratorSettings)
	return &Builder{s: s}
}

// BuilderFromRecord seeds a builder with the properties of an existing world,
// for example to create a sibling world with the same generator.
func BuilderFromRecord(r *Record) *Builder {
	return &Builder{s: Settings{
		Name:              r.Name,
		Seed:              r.Seed,
		GameMode:          r.GameMode,
		Difficulty:        r.Difficulty,
		DimensionType:     r.DimensionType,
		GeneratorType:     r.GeneratorType,
		GeneratorSettings: cloneSettings(r.GeneratorSettings),
		MapFeatures:       r.MapFeatures,
		Hardcore:          r.Hardcore,
		Enabled:           r.Enabled,
		LoadOnStartup:     r.LoadOnStartup,
		KeepLoaded:        r.KeepLoaded,
	}}
}

func (b *Builder) Reset() *Builder {
	b.s = Settings{
		Name:          DefaultWorldName,
		Seed:          DefaultSeed,
		GameMode:      GameModeSurvival,
		Difficulty:    DifficultyNormal,
		DimensionType: DimensionOverworld,
		GeneratorType: DefaultGeneratorType,
		MapFeatures:   true,
		Hardcore:      false,
		Enabled:       true,
		LoadOnStartup: true,
		KeepLoaded:    false,
	}
	return b
}

func (b *Builder) Name(name string) *Builder          { b.s.Name = name; return b }
func (b *Builder) Seed(seed int64) *Builder           { b.s.Seed = seed; return b }
func (b *Builder) GameMode(m GameMode) *Builder       { b.s.GameMode = m; return b }
func (b *Builder) Difficulty(d Difficulty) *Builder   { b.s.Difficulty = d; return b }
func (b *Builder) Dimension(t DimensionType) *Builder { b.s.DimensionType = t; return b }
func (b *Builder) Generator(typ string) *Builder      { b.s.GeneratorType = typ; return b }
func (b *Builder) MapFeatures(enabled bool) *Builder  { b.s.MapFeatures = enabled; return b }
func (b *Builder) Hardcore(enabled bool) *Builder     { b.s.Hardcore = enabled; return b }
func (b *Builder) Enabled(state bool) *Builder        { b.s.Enabled = state; return b }
func (b *Builder) LoadOnStartup(state bool) *Builder  { b.s.LoadOnStartup = state; return b }
func (b *Builder) KeepLoaded(state bool) *Builder     { b.s.KeepLoaded = state; return b }
func (b *Builder) Creator(identity string) *Builder   { b.s.Creator = identity; return b }

func (b *Builder) GeneratorSettings(m map[string]any) *Builder {
	b.s.GeneratorSettings = cloneSettings(m)
	return b
}

// Settings returns a copy of the accumulated settings after validating the
// world name.
func (b *Builder) Settings() (Settings, error) {
	if err := ValidateName(b.s.Name); err != nil {
		return Settings{}, err
	}
	out := b.s
	out.GeneratorSettings = cloneSettings(b.s.GeneratorSettings)
	return out, nil
}
