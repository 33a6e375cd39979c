package rewind

import (
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/sim"
)

// HitResult is the outcome of a lag-compensated hit check.
type HitResult struct {
	Valid  bool
	Target sim.EntityID
	Pos    fixmath.Vec2 // world-space impact point
	Damage int16
	Tick   uint64 // historical tick the check resolved against
}

// ValidateHit adjudicates a client-reported shot against history. The entry
// for reportedTick supplies the client's recorded network delay; the check
// then rewinds further by that delay and ray-tests every ship bounding box in
// the compensated state. The closest intersection within rangeM wins. dir
// must be unit length; rangeM is meters along the ray.
func (b *Buffer) ValidateHit(clientSlot int, reportedTick uint64, origin, dir fixmath.Vec2, rangeM fixmath.Fixed) HitResult {
	b.stats.HitChecks++

	reported, ok := b.State(reportedTick)
	if !ok {
		b.stats.HistoryMisses++
		b.stats.HitsRejected++
		return HitResult{}
	}
	var delayMs int64
	if clientSlot >= 0 && clientSlot < MaxClients {
		delayMs = reported.Delays[clientSlot]
	}
	compTick := reportedTick
	if back := uint64(delayMs / b.cfg.capturePeriodMs()); back < compTick {
		compTick -= back
	} else {
		compTick = 0
	}
	entry, ok := b.State(compTick)
	if !ok {
		b.stats.HistoryMisses++
		b.stats.HitsRejected++
		return HitResult{}
	}
	b.observeRewind(entry.Tick, delayMs)

	he := b.cfg.ShipHalfExtent
	var (
		bestT  fixmath.Fixed
		target sim.EntityID
	)
	for i := range entry.Entities {
		rec := &entry.Entities[i]
		if rec.Kind != sim.KindShip {
			continue
		}
		lo := fixmath.Vec2{X: rec.Pos.X - he, Y: rec.Pos.Y - he}
		hi := fixmath.Vec2{X: rec.Pos.X + he, Y: rec.Pos.Y + he}
		t, hit := rayAABB(origin, dir, rangeM, lo, hi)
		if !hit {
			continue
		}
		if target == sim.InvalidEntity || t < bestT {
			bestT = t
			target = rec.ID
		}
	}
	if target == sim.InvalidEntity {
		b.stats.HitsRejected++
		return HitResult{}
	}
	b.stats.HitsValid++
	return HitResult{
		Valid:  true,
		Target: target,
		Pos:    origin.Add(dir.Scale(bestT)),
		Damage: b.cfg.HitDamage,
		Tick:   entry.Tick,
	}
}

// ValidateMovement checks a reported position against the envelope reachable
// from the player's historical state: position extrapolated by velocity over
// the elapsed wall-clock time, inflated by the 1.2 over-estimate factor, with
// a further 10% acceptance tolerance. Missing history cannot adjudicate and
// fails open.
func (b *Buffer) ValidateMovement(player sim.EntityID, fromTick, toTick uint64, reported fixmath.Vec2) bool {
	b.stats.MoveChecks++

	from, ok := b.State(fromTick)
	if !ok {
		b.stats.HistoryMisses++
		return true
	}
	rec, ok := from.Entity(player)
	if !ok {
		b.stats.HistoryMisses++
		return true
	}

	var elapsedMs int64
	if to, ok := b.State(toTick); ok && to.Tick > from.Tick {
		elapsedMs = to.CapturedMs - from.CapturedMs
	} else if toTick > fromTick {
		elapsedMs = int64(toTick-fromTick) * b.cfg.capturePeriodMs()
	}
	elapsedSec := fixmath.Fixed(elapsedMs * int64(fixmath.One) / 1000)

	expected := rec.Pos.Add(rec.Vel.Scale(elapsedSec))
	envelope := fixmath.Fixed(int64(b.cfg.MaxSpeed.Mul(elapsedSec)) * 12 / 10)
	limit := envelope + envelope/10

	if reported.Sub(expected).Length() <= limit {
		b.stats.MovesValid++
		return true
	}
	b.stats.MovesRejected++
	return false
}

// rayAABB is the slab test against [lo,hi], parameterized in meters along a
// unit dir. Returns the entry distance.
func rayAABB(origin, dir fixmath.Vec2, maxT fixmath.Fixed, lo, hi fixmath.Vec2) (fixmath.Fixed, bool) {
	tmin := fixmath.Fixed(0)
	tmax := maxT

	if dir.X == 0 {
		if origin.X < lo.X || origin.X > hi.X {
			return 0, false
		}
	} else {
		t1 := (lo.X - origin.X).Div(dir.X)
		t2 := (hi.X - origin.X).Div(dir.X)
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	}

	if dir.Y == 0 {
		if origin.Y < lo.Y || origin.Y > hi.Y {
			return 0, false
		}
	} else {
		t1 := (lo.Y - origin.Y).Div(dir.Y)
		t2 := (hi.Y - origin.Y).Div(dir.Y)
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	}

	if tmin > tmax {
		return 0, false
	}
	return tmin, true
}
