// Package replication builds the per-player snapshot packets: a full
// baseline when the baseline triggers fire, otherwise deltas against the
// player's cached baseline records, honoring per-tier send cadence and the
// transport payload bound.
package replication

import (
	"corsair.gg/internal/aoi"
	"corsair.gg/internal/protocol"
	"corsair.gg/internal/sim"
)

// Config holds the replication cadence knobs.
type Config struct {
	// BaselineTicks and BaselineMs re-baseline triggers; whichever fires
	// first wins.
	BaselineTicks uint64
	BaselineMs    int64

	// TierRatesHz is the send frequency per AOI tier (HIGH, MID, LOW).
	TierRatesHz [aoi.TierCount]int

	// MaxEntities caps records per packet; MaxPayload is the transport
	// bound. Entities beyond either cap are omitted for the tick.
	MaxEntities int
	MaxPayload  int

	// MaxBaselines bounds the per-player baseline cache.
	MaxBaselines int
}

// DefaultConfig returns the production cadence: baseline every 30 ticks or
// 1000 ms, tiers at 30/15/5 Hz.
func DefaultConfig() Config {
	return Config{
		BaselineTicks: 30,
		BaselineMs:    1000,
		TierRatesHz:   [aoi.TierCount]int{30, 15, 5},
		MaxEntities:   protocol.MaxSnapshotEntities,
		MaxPayload:    protocol.MaxPayload,
		MaxBaselines:  64,
	}
}

// Stats is the per-stream counter snapshot.
type Stats struct {
	PacketsBuilt      uint64 `json:"packets_built"`
	Baselines         uint64 `json:"baselines"`
	BytesBuilt        uint64 `json:"bytes_built"`
	EntitiesOmitted   uint64 `json:"entities_omitted"`
	DeltasNoBaseline  uint64 `json:"deltas_no_baseline"`
	BaselineEvicted   uint64 `json:"baseline_evicted"`
	BaselineCacheFull uint64 `json:"baseline_cache_full"`
	PosClamped        uint64 `json:"pos_clamped"`
}

// Stream is the per-player snapshot state machine.
type Stream struct {
	player sim.EntityID
	cfg    Config

	sub *aoi.Subscription

	baselines    map[sim.EntityID]protocol.EntitySnapshot
	baselineID   uint16
	baselineTick uint64
	baselineMs   int64
	hasBaseline  bool

	// Cell the viewer occupied at the last baseline. Cached records and the
	// packed cell offsets are anchored to it; a viewer cell change forces a
	// fresh baseline.
	baselineCellX int
	baselineCellY int

	stats Stats
}

// NewStream creates the snapshot state for one player.
func NewStream(player sim.EntityID, cfg Config) *Stream {
	return &Stream{
		player:    player,
		cfg:       cfg,
		sub:       aoi.NewSubscription(),
		baselines: make(map[sim.EntityID]protocol.EntitySnapshot, cfg.MaxBaselines),
	}
}

// Subscription exposes the player's AOI view for the per-tick rebuild.
func (s *Stream) Subscription() *aoi.Subscription { return s.sub }

// Stats returns the stream's counters.
func (s *Stream) Stats() Stats { return s.stats }

// Built is the outcome of one Build call.
type Built struct {
	Payload  []byte
	Seq      uint16 // connection sequence carried as the snapshot id
	Baseline bool   // baselines ride the reliable channel
}

// Build assembles this tick's snapshot packet for the player, or returns
// ok=false when nothing is due. nextSeq allocates the connection sequence,
// which doubles as the snapshot id; it is called only when a packet is
// actually emitted so empty ticks never burn a sequence.
func (s *Stream) Build(view sim.View, tick uint64, nowMs int64, serverTime uint32, nextSeq func() uint16) (Built, bool) {
	var due [aoi.TierCount]bool
	anyDue := false
	for t := 0; t < aoi.TierCount; t++ {
		rate := s.cfg.TierRatesHz[t]
		if rate <= 0 {
			continue
		}
		if nowMs-s.sub.LastSent[t] >= int64(1000/rate) {
			due[t] = true
			anyDue = true
		}
	}

	baseline := !s.hasBaseline ||
		tick-s.baselineTick >= s.cfg.BaselineTicks ||
		nowMs-s.baselineMs >= s.cfg.BaselineMs ||
		s.sub.CellX != s.baselineCellX || s.sub.CellY != s.baselineCellY

	if !baseline && !anyDue {
		return Built{}, false
	}

	pkt := protocol.SnapshotPacket{
		ServerTime: serverTime,
		AOICell:    s.sub.CellID(),
	}
	size := protocol.SnapshotHeaderSize

	if baseline {
		pkt.Flags = protocol.SnapshotFlagBaseline
		s.evictDeparted()
		for i := 0; i < s.sub.Count; i++ {
			e := s.sub.Entries[i]
			if !due[e.Tier] {
				continue
			}
			st, ok := view.Entity(e.ID)
			if !ok {
				continue
			}
			if len(pkt.Entities) >= s.cfg.MaxEntities || size+protocol.EntitySnapshotSize > s.cfg.MaxPayload {
				s.stats.EntitiesOmitted++
				continue
			}
			snap := s.quantizeEntity(st)
			pkt.Entities = append(pkt.Entities, snap)
			size += protocol.EntitySnapshotSize
			s.cacheBaseline(e.ID, snap)
		}
		seq := nextSeq()
		pkt.SnapshotID = seq
		pkt.BaselineID = seq
		s.baselineID = seq
		s.baselineTick = tick
		s.baselineMs = nowMs
		s.hasBaseline = true
		s.baselineCellX = s.sub.CellX
		s.baselineCellY = s.sub.CellY
		s.stats.Baselines++
	} else {
		pkt.Flags = protocol.SnapshotFlagDelta
		pkt.BaselineID = s.baselineID
		for i := 0; i < s.sub.Count; i++ {
			e := s.sub.Entries[i]
			if !due[e.Tier] {
				continue
			}
			st, ok := view.Entity(e.ID)
			if !ok {
				continue
			}
			base, ok := s.baselines[e.ID]
			if !ok {
				// No delta without a baseline; the entity joins the
				// stream at the next baseline.
				s.stats.DeltasNoBaseline++
				continue
			}
			d, changed := protocol.CreateEntityDelta(base, s.quantizeEntity(st))
			if !changed {
				continue
			}
			if len(pkt.Deltas) >= s.cfg.MaxEntities || size+d.EncodedSize() > s.cfg.MaxPayload {
				s.stats.EntitiesOmitted++
				continue
			}
			pkt.Deltas = append(pkt.Deltas, d)
			size += d.EncodedSize()
		}
		if len(pkt.Deltas) == 0 {
			// Nothing changed; keep the cadence clock honest anyway.
			s.markSent(due, nowMs)
			return Built{}, false
		}
		pkt.SnapshotID = nextSeq()
	}

	s.markSent(due, nowMs)

	b, err := pkt.Marshal()
	if err != nil {
		// Builder sizing keeps us under the bound; a failure here is
		// counted and the tick carries on without this packet.
		s.stats.EntitiesOmitted += uint64(len(pkt.Entities) + len(pkt.Deltas))
		return Built{}, false
	}
	s.stats.PacketsBuilt++
	s.stats.BytesBuilt += uint64(len(b))
	return Built{Payload: b, Seq: pkt.SnapshotID, Baseline: baseline}, true
}

func (s *Stream) markSent(due [aoi.TierCount]bool, nowMs int64) {
	for t := 0; t < aoi.TierCount; t++ {
		if due[t] {
			s.sub.LastSent[t] = nowMs
		}
	}
}

func (s *Stream) cacheBaseline(id sim.EntityID, snap protocol.EntitySnapshot) {
	if _, ok := s.baselines[id]; !ok && len(s.baselines) >= s.cfg.MaxBaselines {
		s.stats.BaselineCacheFull++
		return
	}
	s.baselines[id] = snap
}

// evictDeparted drops cached records for entities no longer in the
// subscription, so the cache tracks the live view instead of growing to its
// cap with departed entities.
func (s *Stream) evictDeparted() {
	subscribed := make(map[sim.EntityID]struct{}, s.sub.Count)
	for i := 0; i < s.sub.Count; i++ {
		subscribed[s.sub.Entries[i].ID] = struct{}{}
	}
	for id := range s.baselines {
		if _, ok := subscribed[id]; !ok {
			delete(s.baselines, id)
			s.stats.BaselineEvicted++
		}
	}
}

// quantizeEntity maps live entity state into the wire record. Positions are
// encoded relative to the entity's own cell center, which bounds the offset
// to half a cell per axis; the flag byte's high nibble carries the entity's
// cell relative to the snapshot's AOI cell so the client can add the right
// center back. Subscribed entities always sit within one cell of the viewer;
// anything further cannot be encoded, so it clamps to the nearest
// representable cell and is counted.
func (s *Stream) quantizeEntity(st sim.EntityState) protocol.EntitySnapshot {
	cx, cy := aoi.CellCoords(st.Pos)
	dx, dy := cx-s.sub.CellX, cy-s.sub.CellY
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 {
		s.stats.PosClamped++
		dx = clampOffset(dx)
		dy = clampOffset(dy)
	}
	origin := aoi.CellCenter(s.sub.CellX+dx, s.sub.CellY+dy)
	rel := st.Pos.Sub(origin)
	return protocol.EntitySnapshot{
		ID:     st.ID,
		PosX:   protocol.QuantizePos(rel.X),
		PosY:   protocol.QuantizePos(rel.Y),
		VelX:   protocol.QuantizeVel(st.Vel.X),
		VelY:   protocol.QuantizeVel(st.Vel.Y),
		Rot:    protocol.QuantizeRot(st.Rot),
		Health: protocol.QuantizeHealth(st.Health),
		Flags:  protocol.PackCellOffset(st.Flags, dx, dy),
	}
}

func clampOffset(d int) int {
	if d < -1 {
		return -1
	}
	if d > 1 {
		return 1
	}
	return d
}
