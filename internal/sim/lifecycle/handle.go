package lifecycle

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"worldhost.ai/internal/sim/worldinfo"
)

// Handle is a loaded world. Identity, name and slot are fixed for the life of
// the handle; the record behind it is replaced on every property change.
type Handle struct {
	id       uuid.UUID
	name     string
	slot     int32
	dim      worldinfo.DimensionType
	loadedAt time.Time

	rec   atomic.Pointer[worldinfo.Record]
	dirty atomic.Bool
}

func newHandle(rec *worldinfo.Record, now time.Time) *Handle {
	h := &Handle{
		id:       rec.UniqueID,
		name:     rec.Name,
		slot:     rec.DimensionSlot,
		dim:      rec.DimensionType,
		loadedAt: now,
	}
	h.rec.Store(rec)
	return h
}

func (h *Handle) ID() uuid.UUID                          { return h.id }
func (h *Handle) Name() string                           { return h.name }
func (h *Handle) Slot() int32                            { return h.slot }
func (h *Handle) DimensionType() worldinfo.DimensionType { return h.dim }
func (h *Handle) LoadedAt() time.Time                    { return h.loadedAt }

// Record returns a copy of the current record.
func (h *Handle) Record() *worldinfo.Record { return h.rec.Load().Clone() }

// Dirty reports whether the record has changes not yet written to storage.
func (h *Handle) Dirty() bool { return h.dirty.Load() }

func (h *Handle) String() string { return h.rec.Load().String() }

func (h *Handle) record() *worldinfo.Record { return h.rec.Load() }

// publish replaces the record and marks the handle dirty. Callers hold the
// manager lock.
func (h *Handle) publish(rec *worldinfo.Record) {
	h.rec.Store(rec)
	h.dirty.Store(true)
}
