// Package fixmath provides the Q16.16 fixed-point substrate used for all
// entity state, distances and protocol quantization. Identical inputs produce
// identical bits on every platform; no float enters simulation state.
package fixmath

// Fixed is a signed 32-bit Q16.16 fixed-point value (16 fractional bits).
type Fixed int32

const (
	// One is 1.0 in Q16.16.
	One Fixed = 1 << 16
	// Half is 0.5 in Q16.16.
	Half Fixed = 1 << 15
	// TwoPi is 2π in Q16.16, rounded to nearest.
	TwoPi Fixed = 411775
	// Max and Min bound the representable range (±32768.0).
	Max Fixed = 0x7fffffff
	Min Fixed = -0x80000000
)

// FromInt converts an integer number of whole units.
func FromInt(i int32) Fixed { return Fixed(i) << 16 }

// FromFloat converts a float64. Intended for config and tests only; runtime
// state never round-trips through floats.
func FromFloat(f float64) Fixed {
	if f >= 0 {
		return Fixed(f*65536 + 0.5)
	}
	return Fixed(f*65536 - 0.5)
}

// Float converts to float64 for display and telemetry.
func (f Fixed) Float() float64 { return float64(f) / 65536 }

// Int truncates toward zero to whole units.
func (f Fixed) Int() int32 { return int32(f / One) }

// Mul multiplies two Q16.16 values through a 64-bit intermediate.
func (f Fixed) Mul(o Fixed) Fixed { return Fixed(int64(f) * int64(o) >> 16) }

// Div divides two Q16.16 values. Division by zero returns Max with the sign
// of f, matching the saturating behavior the rest of the core expects.
func (f Fixed) Div(o Fixed) Fixed {
	if o == 0 {
		if f < 0 {
			return Min
		}
		return Max
	}
	return Fixed((int64(f) << 16) / int64(o))
}

// Abs returns the absolute value. Abs(Min) saturates to Max.
func (f Fixed) Abs() Fixed {
	if f == Min {
		return Max
	}
	if f < 0 {
		return -f
	}
	return f
}

// MulDiv computes f*num/den with a single 64-bit intermediate, rounding half
// up. Used by the protocol quantizers, which must be bit-exact for interop.
func (f Fixed) MulDiv(num, den int64) int64 {
	n := int64(f) * num
	if den == 0 {
		return 0
	}
	if n >= 0 {
		return (n + den/2) / den
	}
	return (n - den/2) / den
}

// NormalizeAngle wraps an angle into [0, 2π).
func NormalizeAngle(a Fixed) Fixed {
	r := int64(a) % int64(TwoPi)
	if r < 0 {
		r += int64(TwoPi)
	}
	return Fixed(r)
}

// Sqrt returns the square root of a non-negative Q16.16 value using integer
// Newton iteration. Negative inputs return 0.
func Sqrt(f Fixed) Fixed {
	if f <= 0 {
		return 0
	}
	// sqrt(x * 2^16) in integer domain: sqrt(raw << 16).
	n := int64(f) << 16
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return Fixed(x)
}

// Vec2 is a 2D vector of Q16.16 components.
type Vec2 struct {
	X, Y Fixed
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v * s.
func (v Vec2) Scale(s Fixed) Vec2 { return Vec2{v.X.Mul(s), v.Y.Mul(s)} }

// LengthSq returns |v|² as a raw 64-bit Q32.32 value. Comparing squared
// lengths avoids the square root in hot paths.
func (v Vec2) LengthSq() int64 {
	return int64(v.X)*int64(v.X) + int64(v.Y)*int64(v.Y)
}

// Length returns |v| in Q16.16.
func (v Vec2) Length() Fixed {
	sq := v.LengthSq() >> 16
	if sq > int64(Max) {
		return Max
	}
	return Sqrt(Fixed(sq))
}

// DistSq returns the squared distance between two points (Q32.32 raw).
func DistSq(a, b Vec2) int64 { return a.Sub(b).LengthSq() }
