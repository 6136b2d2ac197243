package worldinfo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const RecordVersion = 1

type DimensionType string

const (
	DimensionOverworld DimensionType = "overworld"
	DimensionNether    DimensionType = "nether"
	DimensionEnd       DimensionType = "the_end"
)

func ParseDimensionType(s string) (DimensionType, error) {
	switch DimensionType(strings.ToLower(strings.TrimSpace(s))) {
	case "", DimensionOverworld:
		return DimensionOverworld, nil
	case DimensionNether, "the_nether":
		return DimensionNether, nil
	case DimensionEnd, "end":
		return DimensionEnd, nil
	}
	return "", fmt.Errorf("unknown dimension type %q", s)
}

type GameMode string

const (
	GameModeSurvival  GameMode = "survival"
	GameModeCreative  GameMode = "creative"
	GameModeAdventure GameMode = "adventure"
	GameModeSpectator GameMode = "spectator"
)

func ParseGameMode(s string) (GameMode, error) {
	switch GameMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", GameModeSurvival:
		return GameModeSurvival, nil
	case GameModeCreative:
		return GameModeCreative, nil
	case GameModeAdventure:
		return GameModeAdventure, nil
	case GameModeSpectator:
		return GameModeSpectator, nil
	}
	return "", fmt.Errorf("unknown game mode %q", s)
}

type Difficulty string

const (
	DifficultyPeaceful Difficulty = "peaceful"
	DifficultyEasy     Difficulty = "easy"
	DifficultyNormal   Difficulty = "normal"
	DifficultyHard     Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyPeaceful:
		return DifficultyPeaceful, nil
	case DifficultyEasy:
		return DifficultyEasy, nil
	case "", DifficultyNormal:
		return DifficultyNormal, nil
	case DifficultyHard:
		return DifficultyHard, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// Record is the durable metadata of one world. UniqueID, Seed and the
// generator fields never change after creation; the flags are administrative.
//
// A *Record held by the registry or a handle is treated as immutable. Callers
// that need to change one work on a Clone and publish the copy.
type Record struct {
	Version       int           `json:"version"`
	UniqueID      uuid.UUID     `json:"unique_id"`
	Name          string        `json:"name"`
	DimensionSlot int32         `json:"dimension_slot"`
	DimensionType DimensionType `json:"dimension_type"`
	Seed          int64         `json:"seed"`

	GameMode      GameMode   `json:"game_mode"`
	Difficulty    Difficulty `json:"difficulty"`
	Hardcore      bool       `json:"hardcore"`
	MapFeatures   bool       `json:"map_features"`
	KeepLoaded    bool       `json:"keep_loaded"`
	LoadOnStartup bool       `json:"load_on_startup"`
	Enabled       bool       `json:"enabled"`

	GeneratorType     string         `json:"generator_type"`
	GeneratorSettings map[string]any `json:"generator_settings,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds a fresh record from creation settings and assigns a new
// random unique id.
func NewRecord(s Settings, slot int32, now time.Time) *Record {
	return &Record{
		Version:           RecordVersion,
		UniqueID:          uuid.New(),
		Name:              s.Name,
		DimensionSlot:     slot,
		DimensionType:     s.DimensionType,
		Seed:              s.Seed,
		GameMode:          s.GameMode,
		Difficulty:        s.Difficulty,
		Hardcore:          s.Hardcore,
		MapFeatures:       s.MapFeatures,
		KeepLoaded:        s.KeepLoaded,
		LoadOnStartup:     s.LoadOnStartup,
		Enabled:           s.Enabled,
		GeneratorType:     s.GeneratorType,
		GeneratorSettings: cloneSettings(s.GeneratorSettings),
		CreatedBy:         s.Creator,
		CreatedAt:         now.UTC().Truncate(time.Millisecond),
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.GeneratorSettings = cloneSettings(r.GeneratorSettings)
	return &out
}

func (r *Record) IsOverworld() bool {
	return r != nil && r.DimensionType == DimensionOverworld && r.DimensionSlot == 0
}

func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s slot=%d)", r.Name, r.UniqueID, r.DimensionSlot)
}

// KeepImmutable copies the creation-time fields of base over r. Used after an
// administrative edit so a caller cannot rewrite identity, seed or generator.
func (r *Record) KeepImmutable(base *Record) {
	r.Version = base.Version
	r.UniqueID = base.UniqueID
	r.Name = base.Name
	r.DimensionSlot = base.DimensionSlot
	r.DimensionType = base.DimensionType
	r.Seed = base.Seed
	r.GeneratorType = base.GeneratorType
	r.GeneratorSettings = cloneSettings(base.GeneratorSettings)
	r.CreatedBy = base.CreatedBy
	r.CreatedAt = base.CreatedAt
}

// cloneSettings deep-copies generator settings through a JSON round trip so
// the copy shares no nested maps or slices with the source.
func cloneSettings(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
