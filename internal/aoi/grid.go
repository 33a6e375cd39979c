// Package aoi partitions the world into a fixed uniform cell grid and
// answers the "what does this player need to know about" question. Accessed
// only from the server loop goroutine; no locks.
package aoi

import (
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/sim"
)

const (
	// GridSize is the cell count per axis: 128x128 cells over an 8192 m
	// world at 64 m resolution.
	GridSize = 128
	// CellMeters is the edge length of one cell.
	CellMeters = 64
	// WorldMeters is the covered world span, centered on the origin.
	WorldMeters = GridSize * CellMeters
	// CellCap is the hard per-cell entity cap. Insertion beyond it is
	// dropped and counted, never grows.
	CellCap = 32

	cellShift    = 22 // 16 fractional bits + log2(64)
	halfWorldRaw = int64(WorldMeters/2) << 16
)

// InsertResult reports what happened to an insertion. The explicit result
// replaces silent truncation so capacity faults are observable and testable.
type InsertResult uint8

const (
	Inserted InsertResult = iota
	DroppedFull
	AlreadyPresent
)

// Cell owns a bounded entity list and a mutation counter.
type Cell struct {
	entities [CellCap]sim.EntityID
	count    uint8
	revision uint32
}

// Grid is the fixed 128x128 cell array. An entity's cell is derived purely
// from its position; membership is recomputed on move, no back-pointer is
// authoritative.
type Grid struct {
	cells [GridSize * GridSize]Cell

	occupancy int
	dropped   uint64
}

// NewGrid returns an empty grid.
func NewGrid() *Grid { return &Grid{} }

// CellCoords maps a world position to cell coordinates, clamping positions
// outside the world to the edge cells.
func CellCoords(pos fixmath.Vec2) (cx, cy int) {
	cx = int((int64(pos.X) + halfWorldRaw) >> cellShift)
	cy = int((int64(pos.Y) + halfWorldRaw) >> cellShift)
	if cx < 0 {
		cx = 0
	} else if cx >= GridSize {
		cx = GridSize - 1
	}
	if cy < 0 {
		cy = 0
	} else if cy >= GridSize {
		cy = GridSize - 1
	}
	return cx, cy
}

// CellID packs cell coordinates into the 16-bit id carried in snapshot
// headers.
func CellID(cx, cy int) uint16 { return uint16(cy)<<7 | uint16(cx) }

// CellCenter returns the world-space center of a cell. Snapshot position
// quantization anchors each entity to its own cell center.
func CellCenter(cx, cy int) fixmath.Vec2 {
	x := int64(cx)<<cellShift - halfWorldRaw + int64(CellMeters/2)<<16
	y := int64(cy)<<cellShift - halfWorldRaw + int64(CellMeters/2)<<16
	return fixmath.Vec2{X: fixmath.Fixed(x), Y: fixmath.Fixed(y)}
}

func (g *Grid) cell(cx, cy int) *Cell { return &g.cells[cy*GridSize+cx] }

// Insert adds an entity at pos. A full cell drops the insertion and counts
// the degradation; the tick carries on.
func (g *Grid) Insert(id sim.EntityID, pos fixmath.Vec2) InsertResult {
	cx, cy := CellCoords(pos)
	c := g.cell(cx, cy)
	for i := uint8(0); i < c.count; i++ {
		if c.entities[i] == id {
			return AlreadyPresent
		}
	}
	if c.count >= CellCap {
		g.dropped++
		return DroppedFull
	}
	c.entities[c.count] = id
	c.count++
	c.revision++
	g.occupancy++
	return Inserted
}

// Remove takes an entity out of the cell derived from pos. Returns false if
// it was not there.
func (g *Grid) Remove(id sim.EntityID, pos fixmath.Vec2) bool {
	cx, cy := CellCoords(pos)
	c := g.cell(cx, cy)
	for i := uint8(0); i < c.count; i++ {
		if c.entities[i] == id {
			c.count--
			c.entities[i] = c.entities[c.count]
			c.revision++
			g.occupancy--
			return true
		}
	}
	return false
}

// Move relocates an entity. No-op when old and new positions share a cell.
func (g *Grid) Move(id sim.EntityID, oldPos, newPos fixmath.Vec2) InsertResult {
	ocx, ocy := CellCoords(oldPos)
	ncx, ncy := CellCoords(newPos)
	if ocx == ncx && ocy == ncy {
		return AlreadyPresent
	}
	g.Remove(id, oldPos)
	return g.Insert(id, newPos)
}

// QueryCells appends every entity within radiusCells of the center cell
// (square neighborhood) to out and returns it.
func (g *Grid) QueryCells(cx, cy, radiusCells int, out []sim.EntityID) []sim.EntityID {
	for y := cy - radiusCells; y <= cy+radiusCells; y++ {
		if y < 0 || y >= GridSize {
			continue
		}
		for x := cx - radiusCells; x <= cx+radiusCells; x++ {
			if x < 0 || x >= GridSize {
				continue
			}
			c := g.cell(x, y)
			for i := uint8(0); i < c.count; i++ {
				out = append(out, c.entities[i])
			}
		}
	}
	return out
}

// QueryRadius converts radius to a cell radius (rounded up) and scans the
// covering square. The overshoot is intentional; callers re-filter when the
// exact radius matters.
func (g *Grid) QueryRadius(center fixmath.Vec2, radius fixmath.Fixed, out []sim.EntityID) []sim.EntityID {
	if radius < 0 {
		radius = 0
	}
	cellRaw := int64(CellMeters) << 16
	radiusCells := int((int64(radius) + cellRaw - 1) / cellRaw)
	cx, cy := CellCoords(center)
	return g.QueryCells(cx, cy, radiusCells, out)
}

// Occupancy returns the number of tracked entity placements.
func (g *Grid) Occupancy() int { return g.occupancy }

// Dropped returns how many insertions were dropped against full cells.
func (g *Grid) Dropped() uint64 { return g.dropped }

// CellCount returns the entity count of one cell, for telemetry.
func (g *Grid) CellCount(cx, cy int) int { return int(g.cell(cx, cy).count) }

// CellRevision returns the mutation counter of one cell.
func (g *Grid) CellRevision(cx, cy int) uint32 { return g.cell(cx, cy).revision }
