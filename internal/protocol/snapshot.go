package protocol

// EntitySnapshot is the quantized per-entity record carried in baseline
// snapshots and cached server-side as the delta-compression reference.
// Wire layout (14 bytes, little-endian):
// id u16, posX u16, posY u16, velX u16, velY u16, rot u16, health u8, flags u8.
type EntitySnapshot struct {
	ID     uint16
	PosX   uint16
	PosY   uint16
	VelX   uint16
	VelY   uint16
	Rot    uint16
	Health uint8
	Flags  uint8
}

// EntitySnapshotSize is the encoded size of one EntitySnapshot record.
const EntitySnapshotSize = 14

// Delta change-mask bits. A bit is set when the corresponding field group
// differs from the baseline and is therefore present on the wire.
const (
	DeltaPos    uint8 = 1 << 0 // posX+posY (4 bytes)
	DeltaVel    uint8 = 1 << 1 // velX+velY (4 bytes)
	DeltaRot    uint8 = 1 << 2 // rot (2 bytes)
	DeltaHealth uint8 = 1 << 3 // health (1 byte)
	DeltaFlags  uint8 = 1 << 4 // flags (1 byte)
)

// EntityDelta carries only the field groups that changed since the baseline,
// plus the change mask itself. Wire layout: id u16, mask u8, then the present
// groups in mask-bit order.
type EntityDelta struct {
	ID   uint16
	Mask uint8

	PosX, PosY uint16
	VelX, VelY uint16
	Rot        uint16
	Health     uint8
	Flags      uint8
}

// CreateEntityDelta diffs cur against base (same entity ID) and returns the
// delta plus whether any field group changed at all.
func CreateEntityDelta(base, cur EntitySnapshot) (EntityDelta, bool) {
	d := EntityDelta{ID: cur.ID}
	if cur.PosX != base.PosX || cur.PosY != base.PosY {
		d.Mask |= DeltaPos
		d.PosX, d.PosY = cur.PosX, cur.PosY
	}
	if cur.VelX != base.VelX || cur.VelY != base.VelY {
		d.Mask |= DeltaVel
		d.VelX, d.VelY = cur.VelX, cur.VelY
	}
	if cur.Rot != base.Rot {
		d.Mask |= DeltaRot
		d.Rot = cur.Rot
	}
	if cur.Health != base.Health {
		d.Mask |= DeltaHealth
		d.Health = cur.Health
	}
	if cur.Flags != base.Flags {
		d.Mask |= DeltaFlags
		d.Flags = cur.Flags
	}
	return d, d.Mask != 0
}

// Apply reconstructs the current snapshot from a baseline and a delta.
func (d EntityDelta) Apply(base EntitySnapshot) EntitySnapshot {
	out := base
	out.ID = d.ID
	if d.Mask&DeltaPos != 0 {
		out.PosX, out.PosY = d.PosX, d.PosY
	}
	if d.Mask&DeltaVel != 0 {
		out.VelX, out.VelY = d.VelX, d.VelY
	}
	if d.Mask&DeltaRot != 0 {
		out.Rot = d.Rot
	}
	if d.Mask&DeltaHealth != 0 {
		out.Health = d.Health
	}
	if d.Mask&DeltaFlags != 0 {
		out.Flags = d.Flags
	}
	return out
}

// EncodedSize returns the wire size of the delta record.
func (d EntityDelta) EncodedSize() int {
	n := 3
	if d.Mask&DeltaPos != 0 {
		n += 4
	}
	if d.Mask&DeltaVel != 0 {
		n += 4
	}
	if d.Mask&DeltaRot != 0 {
		n += 2
	}
	if d.Mask&DeltaHealth != 0 {
		n++
	}
	if d.Mask&DeltaFlags != 0 {
		n++
	}
	return n
}

func (s EntitySnapshot) append(b []byte) []byte {
	var rec [EntitySnapshotSize]byte
	putU16(rec[0:], s.ID)
	putU16(rec[2:], s.PosX)
	putU16(rec[4:], s.PosY)
	putU16(rec[6:], s.VelX)
	putU16(rec[8:], s.VelY)
	putU16(rec[10:], s.Rot)
	rec[12] = s.Health
	rec[13] = s.Flags
	return append(b, rec[:]...)
}

func decodeEntitySnapshot(b []byte) (EntitySnapshot, int, error) {
	if len(b) < EntitySnapshotSize {
		return EntitySnapshot{}, 0, ErrTruncated
	}
	return EntitySnapshot{
		ID:     getU16(b[0:]),
		PosX:   getU16(b[2:]),
		PosY:   getU16(b[4:]),
		VelX:   getU16(b[6:]),
		VelY:   getU16(b[8:]),
		Rot:    getU16(b[10:]),
		Health: b[12],
		Flags:  b[13],
	}, EntitySnapshotSize, nil
}

func (d EntityDelta) append(b []byte) []byte {
	var id [2]byte
	putU16(id[:], d.ID)
	b = append(b, id[:]...)
	b = append(b, d.Mask)
	var u [2]byte
	if d.Mask&DeltaPos != 0 {
		putU16(u[:], d.PosX)
		b = append(b, u[:]...)
		putU16(u[:], d.PosY)
		b = append(b, u[:]...)
	}
	if d.Mask&DeltaVel != 0 {
		putU16(u[:], d.VelX)
		b = append(b, u[:]...)
		putU16(u[:], d.VelY)
		b = append(b, u[:]...)
	}
	if d.Mask&DeltaRot != 0 {
		putU16(u[:], d.Rot)
		b = append(b, u[:]...)
	}
	if d.Mask&DeltaHealth != 0 {
		b = append(b, d.Health)
	}
	if d.Mask&DeltaFlags != 0 {
		b = append(b, d.Flags)
	}
	return b
}

func decodeEntityDelta(b []byte) (EntityDelta, int, error) {
	if len(b) < 3 {
		return EntityDelta{}, 0, ErrTruncated
	}
	d := EntityDelta{ID: getU16(b[0:]), Mask: b[2]}
	off := 3
	need := func(n int) bool { return len(b) >= off+n }
	if d.Mask&DeltaPos != 0 {
		if !need(4) {
			return EntityDelta{}, 0, ErrTruncated
		}
		d.PosX = getU16(b[off:])
		d.PosY = getU16(b[off+2:])
		off += 4
	}
	if d.Mask&DeltaVel != 0 {
		if !need(4) {
			return EntityDelta{}, 0, ErrTruncated
		}
		d.VelX = getU16(b[off:])
		d.VelY = getU16(b[off+2:])
		off += 4
	}
	if d.Mask&DeltaRot != 0 {
		if !need(2) {
			return EntityDelta{}, 0, ErrTruncated
		}
		d.Rot = getU16(b[off:])
		off += 2
	}
	if d.Mask&DeltaHealth != 0 {
		if !need(1) {
			return EntityDelta{}, 0, ErrTruncated
		}
		d.Health = b[off]
		off++
	}
	if d.Mask&DeltaFlags != 0 {
		if !need(1) {
			return EntityDelta{}, 0, ErrTruncated
		}
		d.Flags = b[off]
		off++
	}
	return d, off, nil
}
