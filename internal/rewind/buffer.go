// Package rewind keeps a fixed-depth ring of historical world states plus
// per-client network-delay samples, and adjudicates client-reported hits and
// movement against that history instead of the live world.
package rewind

import (
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/sim"
)

const (
	// Depth is the ring size. At the default 45 Hz capture rate the buffer
	// covers roughly 350 ms of history.
	Depth = 16

	// MaxClients bounds the per-entry delay sample table.
	MaxClients = 64
)

// Config holds the validation knobs. The capture rate is independent of the
// simulation tick rate; both are explicit so they never drift together by
// accident.
type Config struct {
	CaptureHz int

	// MaxSpeed bounds the movement envelope (m/s).
	MaxSpeed fixmath.Fixed

	// ShipHalfExtent is the axis-aligned half size of a ship's bounding box.
	ShipHalfExtent fixmath.Fixed

	// HitDamage is the flat damage credited for a validated hit.
	HitDamage int16

	// MaxEntities bounds the per-slot world copy.
	MaxEntities int
}

// DefaultConfig returns the production capture and validation settings.
func DefaultConfig() Config {
	return Config{
		CaptureHz:      45,
		MaxSpeed:       fixmath.FromInt(10),
		ShipHalfExtent: fixmath.FromInt(2),
		HitDamage:      25,
		MaxEntities:    256,
	}
}

func (c Config) capturePeriodMs() int64 {
	if c.CaptureHz <= 0 {
		return 1
	}
	return int64(1000 / c.CaptureHz)
}

// EntityRecord is the historical copy of one entity.
type EntityRecord struct {
	ID     sim.EntityID
	Kind   sim.Kind
	Pos    fixmath.Vec2
	Vel    fixmath.Vec2
	Health int16
}

// Entry is one ring slot.
type Entry struct {
	Tick       uint64
	CapturedMs int64
	Entities   []EntityRecord
	Delays     [MaxClients]int64 // per-client network delay sample, ms

	valid bool
}

// Entity looks up a historical record by ID.
func (e *Entry) Entity(id sim.EntityID) (EntityRecord, bool) {
	for i := range e.Entities {
		if e.Entities[i].ID == id {
			return e.Entities[i], true
		}
	}
	return EntityRecord{}, false
}

// Stats is the validation counter snapshot.
type Stats struct {
	Stores        uint64  `json:"stores"`
	HitChecks     uint64  `json:"hit_checks"`
	HitsValid     uint64  `json:"hits_valid"`
	HitsRejected  uint64  `json:"hits_rejected"`
	MoveChecks    uint64  `json:"move_checks"`
	MovesValid    uint64  `json:"moves_valid"`
	MovesRejected uint64  `json:"moves_rejected"`
	HistoryMisses uint64  `json:"history_misses"`
	AvgRewindMs   float64 `json:"avg_rewind_ms"`
}

// Buffer is the rewind ring. Single-threaded, owned by the server loop.
type Buffer struct {
	cfg    Config
	slots  [Depth]Entry
	cursor int
	count  int

	oldestTick uint64
	newestTick uint64

	stats        Stats
	rewindMsSum  int64
	rewindMsObsv int64
}

// New creates an empty buffer.
func New(cfg Config) *Buffer {
	return &Buffer{cfg: cfg}
}

// Store writes the current world into the ring, overwriting the oldest slot
// once full. delays carries one network-delay sample per client slot; extra
// entries beyond MaxClients are dropped.
func (b *Buffer) Store(tick uint64, view sim.View, nowMs int64, delays []int64) {
	e := &b.slots[b.cursor]
	e.Tick = tick
	e.CapturedMs = nowMs
	e.Entities = e.Entities[:0]
	for _, id := range view.IDs() {
		if len(e.Entities) >= b.cfg.MaxEntities {
			break
		}
		st, ok := view.Entity(id)
		if !ok {
			continue
		}
		e.Entities = append(e.Entities, EntityRecord{
			ID:     st.ID,
			Kind:   st.Kind,
			Pos:    st.Pos,
			Vel:    st.Vel,
			Health: st.Health,
		})
	}
	e.Delays = [MaxClients]int64{}
	for i, d := range delays {
		if i >= MaxClients {
			break
		}
		e.Delays[i] = d
	}
	e.valid = true

	b.cursor = (b.cursor + 1) % Depth
	if b.count < Depth {
		b.count++
	}
	b.newestTick = tick
	b.oldestTick = b.slots[b.oldestIndex()].Tick
	b.stats.Stores++
}

func (b *Buffer) oldestIndex() int {
	if b.count < Depth {
		return 0
	}
	return b.cursor
}

// CanRewind reports whether tick falls inside the buffer's current bounds.
// Callers must consult this (or check the State ok result) before trusting a
// lookup.
func (b *Buffer) CanRewind(tick uint64) bool {
	return b.count > 0 && tick >= b.oldestTick && tick <= b.newestTick
}

// State returns the entry for tick, or the closest older entry. Lookups never
// resolve forward in time.
func (b *Buffer) State(tick uint64) (*Entry, bool) {
	if !b.CanRewind(tick) {
		return nil, false
	}
	var best *Entry
	for i := range b.slots {
		e := &b.slots[i]
		if !e.valid || e.Tick > tick {
			continue
		}
		if best == nil || e.Tick > best.Tick {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// OldestTick returns the oldest retrievable tick.
func (b *Buffer) OldestTick() uint64 { return b.oldestTick }

// NewestTick returns the most recently stored tick.
func (b *Buffer) NewestTick() uint64 { return b.newestTick }

// Stats returns the counters with the running average rewind latency folded
// in.
func (b *Buffer) Stats() Stats {
	s := b.stats
	if b.rewindMsObsv > 0 {
		s.AvgRewindMs = float64(b.rewindMsSum) / float64(b.rewindMsObsv)
	}
	return s
}

func (b *Buffer) observeRewind(resolvedTick uint64, delayMs int64) {
	behind := int64(b.newestTick-resolvedTick)*b.cfg.capturePeriodMs() + delayMs
	b.rewindMsSum += behind
	b.rewindMsObsv++
}
