package dimension

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"worldhost.ai/internal/sim/worldinfo"
)

// NoPreference asks Reserve for the lowest free dynamic slot.
const NoPreference int32 = math.MinInt32

const RootSlot int32 = 0

var ErrSlotExhausted = errors.New("dimension slots exhausted")

// DefaultReserved are the system slots of the vanilla overworld, nether and
// end. They are handed out only when explicitly preferred.
var DefaultReserved = []int32{-1, 0, 1}

const DefaultMaxSlot int32 = math.MaxInt32

type Config struct {
	Reserved []int32
	MaxSlot  int32
}

func (c Config) normalized() Config {
	if c.Reserved == nil {
		c.Reserved = append([]int32(nil), DefaultReserved...)
	}
	if c.MaxSlot <= 0 {
		c.MaxSlot = DefaultMaxSlot
	}
	return c
}

type claim struct {
	owner uuid.UUID
	typ   worldinfo.DimensionType
	typed bool
}

// Allocator owns the dimension slot namespace. A slot is claimed by exactly one
// world identity at a time.
type Allocator struct {
	mu sync.Mutex

	reserved     map[int32]struct{}
	firstDynamic int32
	maxSlot      int32

	claims map[int32]*claim
	// next is a scan hint: no free dynamic slot exists below it.
	next int32
}

func New(cfg Config) *Allocator {
	cfg = cfg.normalized()
	a := &Allocator{
		reserved: make(map[int32]struct{}, len(cfg.Reserved)),
		maxSlot:  cfg.MaxSlot,
		claims:   make(map[int32]*claim),
	}
	for _, s := range cfg.Reserved {
		a.reserved[s] = struct{}{}
		if s >= a.firstDynamic {
			a.firstDynamic = s + 1
		}
	}
	a.next = a.firstDynamic
	return a
}

// Reserve claims a slot for owner. A preferred slot is granted when it is free
// or already held by owner; otherwise the lowest free dynamic slot is used.
func (a *Allocator) Reserve(owner uuid.UUID, preferred int32) (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred != NoPreference && preferred <= a.maxSlot {
		if c, ok := a.claims[preferred]; !ok {
			a.claims[preferred] = &claim{owner: owner}
			return preferred, nil
		} else if c.owner == owner {
			return preferred, nil
		}
	}
	for s := a.next; s <= a.maxSlot && s >= a.firstDynamic; s++ {
		if _, ok := a.reserved[s]; ok {
			continue
		}
		if _, ok := a.claims[s]; ok {
			continue
		}
		a.claims[s] = &claim{owner: owner}
		a.next = s + 1
		if s == math.MaxInt32 {
			a.next = s
		}
		return s, nil
	}
	return 0, fmt.Errorf("%w: no free slot in [%d, %d]", ErrSlotExhausted, a.firstDynamic, a.maxSlot)
}

// Release frees slot and drops its type registration. Releasing a free slot is
// a no-op.
func (a *Allocator) Release(slot int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.claims[slot]; !ok {
		return
	}
	delete(a.claims, slot)
	if slot >= a.firstDynamic && slot < a.next {
		a.next = slot
	}
}

func (a *Allocator) IsRegistered(slot int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.claims[slot]
	return ok
}

func (a *Allocator) Owner(slot int32) (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.claims[slot]
	if !ok {
		return uuid.Nil, false
	}
	return c.owner, true
}

// RegisterType records the dimension type of a claimed slot. It reports whether
// anything changed; registering the same pair twice is a no-op. Unclaimed slots
// are ignored.
func (a *Allocator) RegisterType(slot int32, t worldinfo.DimensionType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.claims[slot]
	if !ok {
		return false
	}
	if c.typed && c.typ == t {
		return false
	}
	c.typ, c.typed = t, true
	return true
}

func (a *Allocator) TypeOf(slot int32) (worldinfo.DimensionType, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.claims[slot]
	if !ok || !c.typed {
		return "", false
	}
	return c.typ, true
}

// Claimed returns the claimed slots in ascending order.
func (a *Allocator) Claimed() []int32 {
	a.mu.Lock()
	out := make([]int32, 0, len(a.claims))
	for s := range a.claims {
		out = append(out, s)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Allocator) IsReserved(slot int32) bool {
	_, ok := a.reserved[slot]
	return ok
}
