package sim

import (
	"sort"

	"corsair.gg/internal/fixmath"
)

// World is the minimal reference simulation. All access is single-threaded
// from the server loop goroutine.
type World struct {
	entities map[EntityID]*EntityState
	ids      []EntityID // ascending, rebuilt on spawn/despawn
	nextID   uint16

	// MaxSpeed is the configured speed cap (m/s) used by input application
	// and exported for movement validation envelopes.
	MaxSpeed fixmath.Fixed
}

// NewWorld creates an empty world with the given speed cap.
func NewWorld(maxSpeed fixmath.Fixed) *World {
	return &World{
		entities: make(map[EntityID]*EntityState),
		MaxSpeed: maxSpeed,
	}
}

// Spawn creates an entity of the given kind and returns its ID. IDs are
// monotonic and skip 0 on wrap.
func (w *World) Spawn(kind Kind, pos fixmath.Vec2) EntityID {
	w.nextID++
	if w.nextID == 0 {
		w.nextID = 1
	}
	id := w.nextID
	w.entities[id] = &EntityState{ID: id, Kind: kind, Pos: pos, Health: 100}
	w.ids = append(w.ids, id)
	sort.Slice(w.ids, func(i, j int) bool { return w.ids[i] < w.ids[j] })
	return id
}

// Despawn removes an entity.
func (w *World) Despawn(id EntityID) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	delete(w.entities, id)
	for i, v := range w.ids {
		if v == id {
			w.ids = append(w.ids[:i], w.ids[i+1:]...)
			break
		}
	}
}

// Entity returns the state of one entity.
func (w *World) Entity(id EntityID) (EntityState, bool) {
	e, ok := w.entities[id]
	if !ok {
		return EntityState{}, false
	}
	return *e, true
}

// Exists reports whether the entity is alive.
func (w *World) Exists(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// IDs returns all live IDs in ascending order. The returned slice is owned
// by the world and valid until the next spawn/despawn.
func (w *World) IDs() []EntityID { return w.ids }

// SetState overwrites an entity's state. Test and bootstrap helper.
func (w *World) SetState(s EntityState) {
	if e, ok := w.entities[s.ID]; ok {
		*e = s
	}
}

// ApplyInput maps normalized thrust/turn axes onto the entity's velocity and
// heading, clamped to MaxSpeed. The reference integration is intentionally
// crude; the real dynamics are external.
func (w *World) ApplyInput(player EntityID, thrust, turn fixmath.Fixed, actions uint16) {
	e, ok := w.entities[player]
	if !ok {
		return
	}
	e.Rot = fixmath.NormalizeAngle(e.Rot + turn.Mul(fixmath.FromFloat(0.1)))
	speed := thrust.Mul(w.MaxSpeed)
	// Cheap axis-aligned heading approximation keeps this integer-only.
	e.Vel = headingVec(e.Rot).Scale(speed)
	if actions&1 != 0 {
		e.Flags |= FlagInCombat
	}
}

// Step advances all entities by dtMs milliseconds of linear motion, in
// ascending ID order.
func (w *World) Step(dtMs int64) {
	dt := fixmath.Fixed(dtMs * int64(fixmath.One) / 1000)
	for _, id := range w.ids {
		e := w.entities[id]
		e.Pos = e.Pos.Add(e.Vel.Scale(dt))
	}
}

// headingVec approximates (cos θ, sin θ) with an 8-sector octagonal lookup.
// The sector division rounds to the nearest boundary so the cardinal angles
// land on the axis-aligned vectors. Deterministic by construction.
func headingVec(rot fixmath.Fixed) fixmath.Vec2 {
	sector := (int64(rot)*8 + int64(fixmath.TwoPi)/2) / int64(fixmath.TwoPi)
	// 0.7071 in Q16.16.
	const diag = fixmath.Fixed(46341)
	switch sector % 8 {
	case 0:
		return fixmath.Vec2{X: fixmath.One}
	case 1:
		return fixmath.Vec2{X: diag, Y: diag}
	case 2:
		return fixmath.Vec2{Y: fixmath.One}
	case 3:
		return fixmath.Vec2{X: -diag, Y: diag}
	case 4:
		return fixmath.Vec2{X: -fixmath.One}
	case 5:
		return fixmath.Vec2{X: -diag, Y: -diag}
	case 6:
		return fixmath.Vec2{Y: -fixmath.One}
	default:
		return fixmath.Vec2{X: diag, Y: -diag}
	}
}
