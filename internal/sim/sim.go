// Package sim defines the entity-state surface the netcode core consumes
// from the gameplay simulation, plus a deliberately minimal reference
// implementation so the server and its tests can run without the full
// physics stack. Movement integration here is position += velocity only;
// collision resolution and ship dynamics live outside this repository.
package sim

import "corsair.gg/internal/fixmath"

// EntityID identifies a ship, player or projectile. 0 is reserved invalid.
// IDs are allocated monotonically and never reused within a session; wrap at
// 65535 is a known limitation.
type EntityID = uint16

// InvalidEntity is the reserved zero ID.
const InvalidEntity EntityID = 0

// Kind discriminates the three entity classes.
type Kind uint8

const (
	KindShip Kind = iota + 1
	KindPlayer
	KindProjectile
)

// State flag bits carried in snapshots.
const (
	FlagAnchored uint8 = 1 << 0
	FlagSinking  uint8 = 1 << 1
	FlagInCombat uint8 = 1 << 2
	FlagDead     uint8 = 1 << 3
)

// EntityState is the accessor view of one live entity.
type EntityState struct {
	ID     EntityID
	Kind   Kind
	Pos    fixmath.Vec2
	Vel    fixmath.Vec2
	Rot    fixmath.Fixed // radians, [0,2π)
	Health int16
	Flags  uint8
}

// View is the read-only entity accessor the netcode consumes each tick.
// IDs returns all live entity IDs in ascending order; the stable order is
// what keeps per-tick processing, hashing and replay deterministic.
type View interface {
	Entity(id EntityID) (EntityState, bool)
	Exists(id EntityID) bool
	IDs() []EntityID
}

// InputSink is the input-application entry point of the simulation.
// Thrust and turn are normalized [-1,1] axes in Q16.16.
type InputSink interface {
	ApplyInput(player EntityID, thrust, turn fixmath.Fixed, actions uint16)
}
