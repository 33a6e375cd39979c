package protocol

import "corsair.gg/internal/fixmath"

// Quantization contracts. These are fixed for wire interop and must be
// bit-exact: position round(v*512)+32768 into unsigned 16 bits, velocity
// round(v*256)+32768, rotation round(normalize(a)*1024/2π), health truncated
// to unsigned 8 bits. All rounding is integer round-half-up on the Q16.16
// raw value; no float is involved.

const (
	posScale = 512
	velScale = 256
	rotSteps = 1024
	bias     = 32768
)

func clampU16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}

// QuantizePos encodes a position component (meters).
func QuantizePos(v fixmath.Fixed) uint16 {
	return clampU16(v.MulDiv(posScale, 1<<16) + bias)
}

// UnquantizePos decodes a position component. Exact for quantized values:
// one step is 1/512 m, which is 128 raw Q16.16 units.
func UnquantizePos(q uint16) fixmath.Fixed {
	return fixmath.Fixed((int32(q) - bias) * (1 << 16 / posScale))
}

// QuantizeVel encodes a velocity component (m/s) at 1/256 m/s resolution.
func QuantizeVel(v fixmath.Fixed) uint16 {
	return clampU16(v.MulDiv(velScale, 1<<16) + bias)
}

// UnquantizeVel decodes a velocity component.
func UnquantizeVel(q uint16) fixmath.Fixed {
	return fixmath.Fixed((int32(q) - bias) * (1 << 16 / velScale))
}

// QuantizeRot encodes an angle into 1024 steps over [0, 2π). The angle is
// normalized first, so any input maps into range; step 1024 wraps to 0.
func QuantizeRot(a fixmath.Fixed) uint16 {
	n := fixmath.NormalizeAngle(a)
	q := n.MulDiv(rotSteps, int64(fixmath.TwoPi))
	return uint16(q % rotSteps)
}

// UnquantizeRot decodes an angle step back into Q16.16 radians.
func UnquantizeRot(q uint16) fixmath.Fixed {
	return fixmath.Fixed(int64(q%rotSteps) * int64(fixmath.TwoPi) / rotSteps)
}

// QuantizeHealth truncates health into an unsigned byte, clamping negatives
// to zero and overflow to 255.
func QuantizeHealth(h int16) uint8 {
	if h < 0 {
		return 0
	}
	if h > 255 {
		return 255
	}
	return uint8(h)
}

// Entity flag byte layout: the low nibble carries the simulation flags, the
// high nibble locates the entity's cell relative to the snapshot's AOI cell.
// Positions are quantized against the entity's own cell center, which keeps
// every encodable offset inside the u16 range; the packed cell offset (each
// axis in [-1,1], stored biased by +1) tells the client which center to add
// back.
const (
	FlagsSimMask uint8 = 0x0f

	cellOffXShift = 4
	cellOffYShift = 6
)

// PackCellOffset folds a cell offset into the flag byte's high nibble.
func PackCellOffset(flags uint8, dx, dy int) uint8 {
	return flags&FlagsSimMask | uint8(dx+1)<<cellOffXShift | uint8(dy+1)<<cellOffYShift
}

// UnpackCellOffset recovers the cell offset from a flag byte.
func UnpackCellOffset(flags uint8) (dx, dy int) {
	return int(flags>>cellOffXShift&3) - 1, int(flags>>cellOffYShift&3) - 1
}

// Q15 helpers convert between the wire's signed Q0.15 axis values ([-1,1]
// at 1/32768 precision) and Q16.16.

// Q15ToFixed widens a signed Q0.15 wire value to Q16.16.
func Q15ToFixed(q int16) fixmath.Fixed { return fixmath.Fixed(int32(q)) << 1 }

// FixedToQ15 narrows a Q16.16 value to signed Q0.15, saturating at ±1.0.
func FixedToQ15(f fixmath.Fixed) int16 {
	v := int32(f) >> 1
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
