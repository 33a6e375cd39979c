package aoi

import (
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/sim"
)

// Update-frequency tiers. Assignment is by proximity rank in scan order, not
// by distance threshold: the first SubHighCount entities found go HIGH, the
// next SubMidCount go MID, the remainder LOW. Rank-based tiers can flap when
// query order changes between ticks; behavior kept for parity with the
// original scheme.
type Tier uint8

const (
	TierHigh Tier = iota
	TierMid
	TierLow

	// TierCount sizes per-tier bookkeeping arrays.
	TierCount = 3
)

const (
	// MaxSubscribed caps the entities one player can be subscribed to.
	MaxSubscribed = 32
	// SubHighCount and SubMidCount are the scan-rank tier boundaries.
	SubHighCount = 8
	SubMidCount  = 16
	// SubCellRadius is the fixed 3x3-cell neighborhood (~192 m) queried
	// around each player.
	SubCellRadius = 1
)

// SubEntry is one subscribed entity with its assigned tier.
type SubEntry struct {
	ID   sim.EntityID
	Tier Tier
}

// Subscription is a player's derived AOI view. It is rebuilt every tick from
// a grid query; only the per-tier last-send timestamps survive rebuilds.
type Subscription struct {
	CellX, CellY int
	Entries      [MaxSubscribed]SubEntry
	Count        int

	// LastSent holds the last send time per tier in unix milliseconds.
	LastSent [TierCount]int64

	scratch []sim.EntityID
}

// NewSubscription returns an empty subscription.
func NewSubscription() *Subscription {
	return &Subscription{scratch: make([]sim.EntityID, 0, 9*CellCap)}
}

// Rebuild refreshes the subscription from a 3x3-cell query around pos,
// excluding self and capping at MaxSubscribed. Tier is assigned by scan
// rank.
func (s *Subscription) Rebuild(g *Grid, self sim.EntityID, pos fixmath.Vec2) {
	s.CellX, s.CellY = CellCoords(pos)
	s.Count = 0
	s.scratch = g.QueryCells(s.CellX, s.CellY, SubCellRadius, s.scratch[:0])
	for _, id := range s.scratch {
		if id == self {
			continue
		}
		if s.Count >= MaxSubscribed {
			break
		}
		s.Entries[s.Count] = SubEntry{ID: id, Tier: tierForRank(s.Count)}
		s.Count++
	}
}

// CellID returns the packed id of the subscription's current cell.
func (s *Subscription) CellID() uint16 { return CellID(s.CellX, s.CellY) }

func tierForRank(rank int) Tier {
	switch {
	case rank < SubHighCount:
		return TierHigh
	case rank < SubHighCount+SubMidCount:
		return TierMid
	default:
		return TierLow
	}
}
