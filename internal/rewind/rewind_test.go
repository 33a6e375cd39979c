package rewind

import (
	"testing"

	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/sim"
)

func vec(x, y float64) fixmath.Vec2 {
	return fixmath.Vec2{X: fixmath.FromFloat(x), Y: fixmath.FromFloat(y)}
}

func TestRing_OverwriteKeepsNewestSixteen(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	w.Spawn(sim.KindShip, vec(1, 1))

	b := New(DefaultConfig())
	for tick := uint64(1); tick <= 20; tick++ {
		b.Store(tick, w, int64(tick)*22, nil)
	}

	if b.OldestTick() != 5 || b.NewestTick() != 20 {
		t.Fatalf("bounds = [%d,%d]", b.OldestTick(), b.NewestTick())
	}
	for tick := uint64(5); tick <= 20; tick++ {
		if !b.CanRewind(tick) {
			t.Fatalf("tick %d should be retrievable", tick)
		}
		e, ok := b.State(tick)
		if !ok || e.Tick != tick {
			t.Fatalf("State(%d) = %v/%v", tick, e, ok)
		}
	}
	if b.CanRewind(4) {
		t.Fatalf("tick 4 was overwritten")
	}
	if _, ok := b.State(4); ok {
		t.Fatalf("State(4) should miss")
	}
}

func TestState_ClosestOlderNeverFuture(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	b := New(DefaultConfig())
	for _, tick := range []uint64{10, 20, 30} {
		b.Store(tick, w, int64(tick), nil)
	}

	e, ok := b.State(25)
	if !ok || e.Tick != 20 {
		t.Fatalf("State(25) = tick %d, ok=%v", e.Tick, ok)
	}
	if _, ok := b.State(9); ok {
		t.Fatalf("lookup below oldest must miss")
	}
}

func TestValidateHit_RayHitsHistoricalShip(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	ship := w.Spawn(sim.KindShip, vec(10, 0))

	b := New(DefaultConfig())
	b.Store(1, w, 1000, []int64{0})

	res := b.ValidateHit(0, 1, vec(0, 0), vec(1, 0), fixmath.FromInt(15))
	if !res.Valid || res.Target != ship {
		t.Fatalf("hit = %+v", res)
	}
	if res.Damage != 25 {
		t.Fatalf("damage = %d", res.Damage)
	}
	// Impact at the near box face, x = 10 - halfExtent.
	if got := res.Pos.X.Float(); got < 7.9 || got > 8.1 {
		t.Fatalf("impact x = %v", got)
	}

	// Same ray rotated 90 degrees passes nowhere near the ship.
	res = b.ValidateHit(0, 1, vec(0, 0), vec(0, 1), fixmath.FromInt(15))
	if res.Valid {
		t.Fatalf("perpendicular ray must miss: %+v", res)
	}

	s := b.Stats()
	if s.HitsValid != 1 || s.HitsRejected != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestValidateHit_OutOfRangeTickCannotAdjudicate(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	w.Spawn(sim.KindShip, vec(10, 0))
	b := New(DefaultConfig())
	b.Store(5, w, 1000, nil)

	if res := b.ValidateHit(0, 99, vec(0, 0), vec(1, 0), fixmath.FromInt(15)); res.Valid {
		t.Fatalf("future tick must not validate")
	}
	if b.Stats().HistoryMisses != 1 {
		t.Fatalf("miss not counted")
	}
}

func TestValidateHit_DelayCompensationRewindsFurther(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	ship := w.Spawn(sim.KindShip, vec(10, 0))

	b := New(DefaultConfig())
	b.Store(1, w, 1000, []int64{0})

	// Ship warps away; the later entry records a 30 ms delay for client 0,
	// which is more than one 22 ms capture period back.
	st, _ := w.Entity(ship)
	st.Pos = vec(100, 0)
	w.SetState(st)
	b.Store(2, w, 1022, []int64{30})

	res := b.ValidateHit(0, 2, vec(0, 0), vec(1, 0), fixmath.FromInt(15))
	if !res.Valid || res.Target != ship {
		t.Fatalf("compensated hit = %+v", res)
	}
	if res.Tick != 1 {
		t.Fatalf("resolved tick = %d, want 1", res.Tick)
	}
}

func TestValidateHit_ClosestShipWins(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	far := w.Spawn(sim.KindShip, vec(12, 0))
	near := w.Spawn(sim.KindShip, vec(6, 0))
	_ = far

	b := New(DefaultConfig())
	b.Store(1, w, 1000, nil)

	res := b.ValidateHit(0, 1, vec(0, 0), vec(1, 0), fixmath.FromInt(20))
	if !res.Valid || res.Target != near {
		t.Fatalf("want nearest ship %d, got %+v", near, res)
	}
}

func TestValidateMovement_Envelope(t *testing.T) {
	w := sim.NewWorld(fixmath.FromInt(10))
	player := w.Spawn(sim.KindPlayer, vec(0, 0))
	st, _ := w.Entity(player)
	st.Vel = vec(5, 0)
	w.SetState(st)

	b := New(DefaultConfig())
	b.Store(1, w, 1000, nil)
	b.Store(2, w, 1100, nil)

	// 100 ms elapsed: expected x = 0.5, envelope 10*0.1*1.2 = 1.2 m plus
	// the 10% tolerance.
	if !b.ValidateMovement(player, 1, 2, vec(0.5, 0)) {
		t.Fatalf("exact extrapolation rejected")
	}
	if !b.ValidateMovement(player, 1, 2, vec(1.5, 0)) {
		t.Fatalf("in-envelope report rejected")
	}
	if b.ValidateMovement(player, 1, 2, vec(3, 0)) {
		t.Fatalf("teleport accepted")
	}

	s := b.Stats()
	if s.MovesValid != 2 || s.MovesRejected != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestValidateMovement_MissingHistoryFailsOpen(t *testing.T) {
	b := New(DefaultConfig())
	if !b.ValidateMovement(1, 1, 2, vec(0, 0)) {
		t.Fatalf("empty buffer must fail open")
	}
	if b.Stats().HistoryMisses != 1 {
		t.Fatalf("miss not counted")
	}
}
