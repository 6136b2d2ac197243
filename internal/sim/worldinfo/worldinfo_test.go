package worldinfo

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	ok := []string{"world", "my_nether", "DIM-1", "world 2", "v1.2", "welt_ü", "世界"}
	for _, name := range ok {
		assert.NoError(t, ValidateName(name), name)
	}

	bad := []string{
		"",
		"   ",
		".",
		"..",
		".hidden",
		"../escape",
		"a/b",
		`a\b`,
		"tab\tname",
		" padded",
		"semi;colon",
		"cafe\u0301", // decomposed
		strings.Repeat("x", MaxNameLen+1),
	}
	for _, name := range bad {
		err := ValidateName(name)
		require.Error(t, err, "%q", name)
		assert.True(t, errors.Is(err, ErrInvalidName), "%q: %v", name, err)
	}
}

func TestBuilder_Defaults(t *testing.T) {
	s, err := NewBuilder().Settings()
	require.NoError(t, err)

	assert.Equal(t, DefaultWorldName, s.Name)
	assert.Equal(t, DefaultSeed, s.Seed)
	assert.Equal(t, GameModeSurvival, s.GameMode)
	assert.Equal(t, DimensionOverworld, s.DimensionType)
	assert.Equal(t, DefaultGeneratorType, s.GeneratorType)
	assert.True(t, s.MapFeatures)
	assert.False(t, s.Hardcore)
	assert.True(t, s.Enabled)
	assert.True(t, s.LoadOnStartup)
	assert.False(t, s.KeepLoaded)
	assert.Empty(t, s.GeneratorSettings)
}

func TestBuilder_ChainAndReset(t *testing.T) {
	b := NewBuilder().
		Name("mynether").
		Seed(42).
		Dimension(DimensionNether).
		GameMode(GameModeCreative).
		Hardcore(true).
		GeneratorSettings(map[string]any{"layers": "bedrock"})
	s, err := b.Settings()
	require.NoError(t, err)
	assert.Equal(t, "mynether", s.Name)
	assert.Equal(t, int64(42), s.Seed)
	assert.Equal(t, DimensionNether, s.DimensionType)
	assert.True(t, s.Hardcore)
	assert.Equal(t, "bedrock", s.GeneratorSettings["layers"])

	s, err = b.Reset().Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorldName, s.Name)
	assert.False(t, s.Hardcore)

	_, err = NewBuilder().Name("../x").Settings()
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestBuilderFromRecord(t *testing.T) {
	s, err := NewBuilder().Name("base").Seed(7).Dimension(DimensionEnd).Settings()
	require.NoError(t, err)
	rec := NewRecord(s, 4, time.Now())

	s2, err := BuilderFromRecord(rec).Name("copy").Settings()
	require.NoError(t, err)
	assert.Equal(t, "copy", s2.Name)
	assert.Equal(t, int64(7), s2.Seed)
	assert.Equal(t, DimensionEnd, s2.DimensionType)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	s, err := NewBuilder().GeneratorSettings(map[string]any{
		"biomes": map[string]any{"ocean": 3.0},
	}).Settings()
	require.NoError(t, err)
	rec := NewRecord(s, 2, time.Now())
	require.NotEqual(t, uuid.Nil, rec.UniqueID)

	cp := rec.Clone()
	require.Equal(t, rec, cp)
	cp.GeneratorSettings["biomes"].(map[string]any)["ocean"] = 9.0
	assert.Equal(t, 3.0, rec.GeneratorSettings["biomes"].(map[string]any)["ocean"])
}

func TestRecord_KeepImmutable(t *testing.T) {
	s, err := NewBuilder().Name("w").Seed(11).Settings()
	require.NoError(t, err)
	base := NewRecord(s, 3, time.Now())

	edited := base.Clone()
	edited.UniqueID = uuid.New()
	edited.Seed = 99
	edited.DimensionSlot = 40
	edited.GeneratorType = "flat"
	edited.Difficulty = DifficultyHard
	edited.KeepImmutable(base)

	assert.Equal(t, base.UniqueID, edited.UniqueID)
	assert.Equal(t, int64(11), edited.Seed)
	assert.Equal(t, int32(3), edited.DimensionSlot)
	assert.Equal(t, DefaultGeneratorType, edited.GeneratorType)
	assert.Equal(t, DifficultyHard, edited.Difficulty)
}

func TestParseEnums(t *testing.T) {
	gm, err := ParseGameMode("Creative")
	require.NoError(t, err)
	assert.Equal(t, GameModeCreative, gm)
	_, err = ParseGameMode("godmode")
	assert.Error(t, err)

	d, err := ParseDifficulty("")
	require.NoError(t, err)
	assert.Equal(t, DifficultyNormal, d)

	dt, err := ParseDimensionType("the_nether")
	require.NoError(t, err)
	assert.Equal(t, DimensionNether, dt)
	_, err = ParseDimensionType("moon")
	assert.Error(t, err)
}
