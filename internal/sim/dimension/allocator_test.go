package dimension

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldhost.ai/internal/sim/worldinfo"
)

func TestReserve_LowestDynamicSlot(t *testing.T) {
	a := New(Config{})

	s1, err := a.Reserve(uuid.New(), NoPreference)
	require.NoError(t, err)
	s2, err := a.Reserve(uuid.New(), NoPreference)
	require.NoError(t, err)

	assert.Equal(t, int32(2), s1)
	assert.Equal(t, int32(3), s2)
	assert.False(t, a.IsRegistered(0), "reserved slots are never handed out implicitly")
}

func TestReserve_Preferred(t *testing.T) {
	a := New(Config{})
	owner := uuid.New()

	s, err := a.Reserve(owner, RootSlot)
	require.NoError(t, err)
	assert.Equal(t, RootSlot, s)

	// same owner may re-reserve its slot
	s, err = a.Reserve(owner, RootSlot)
	require.NoError(t, err)
	assert.Equal(t, RootSlot, s)

	// a different owner falls back to a dynamic slot
	s, err = a.Reserve(uuid.New(), RootSlot)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s)

	got, ok := a.Owner(RootSlot)
	require.True(t, ok)
	assert.Equal(t, owner, got)
}

func TestRelease_IdempotentAndReused(t *testing.T) {
	a := New(Config{})
	s1, _ := a.Reserve(uuid.New(), NoPreference)
	s2, _ := a.Reserve(uuid.New(), NoPreference)
	require.True(t, a.RegisterType(s1, worldinfo.DimensionNether))

	a.Release(s1)
	a.Release(s1)
	a.Release(99)
	assert.False(t, a.IsRegistered(s1))
	_, typed := a.TypeOf(s1)
	assert.False(t, typed)

	s3, err := a.Reserve(uuid.New(), NoPreference)
	require.NoError(t, err)
	assert.Equal(t, s1, s3)
	assert.Equal(t, []int32{s1, s2}, a.Claimed())
}

func TestReserve_Exhausted(t *testing.T) {
	a := New(Config{Reserved: []int32{0}, MaxSlot: 3})
	for want := int32(1); want <= 3; want++ {
		s, err := a.Reserve(uuid.New(), NoPreference)
		require.NoError(t, err)
		assert.Equal(t, want, s)
	}
	_, err := a.Reserve(uuid.New(), NoPreference)
	assert.ErrorIs(t, err, ErrSlotExhausted)

	a.Release(2)
	s, err := a.Reserve(uuid.New(), NoPreference)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s)
}

func TestRegisterType_Idempotent(t *testing.T) {
	a := New(Config{})
	s, _ := a.Reserve(uuid.New(), NoPreference)

	assert.True(t, a.RegisterType(s, worldinfo.DimensionEnd))
	assert.False(t, a.RegisterType(s, worldinfo.DimensionEnd))
	typ, ok := a.TypeOf(s)
	require.True(t, ok)
	assert.Equal(t, worldinfo.DimensionEnd, typ)

	assert.False(t, a.RegisterType(77, worldinfo.DimensionEnd), "unclaimed slot")
}

func TestReserve_ConcurrentUnique(t *testing.T) {
	a := New(Config{})
	const n = 200
	slots := make([]int32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := a.Reserve(uuid.New(), NoPreference)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			slots[i] = s
		}(i)
	}
	wg.Wait()

	seen := make(map[int32]bool, n)
	for _, s := range slots {
		require.False(t, seen[s], "slot %d handed out twice", s)
		seen[s] = true
	}
	assert.Len(t, a.Claimed(), n)
}
