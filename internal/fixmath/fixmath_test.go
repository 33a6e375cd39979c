package fixmath

import "testing"

func TestFixedArithmetic(t *testing.T) {
	a := FromFloat(1.5)
	b := FromFloat(2.0)
	if got := a.Mul(b); got != FromFloat(3.0) {
		t.Fatalf("1.5*2.0 = %v", got.Float())
	}
	if got := b.Div(a); got.Float() < 1.333 || got.Float() > 1.334 {
		t.Fatalf("2.0/1.5 = %v", got.Float())
	}
	if got := FromFloat(-4.25).Abs(); got != FromFloat(4.25) {
		t.Fatalf("abs(-4.25) = %v", got.Float())
	}
	if FromInt(3) != FromFloat(3.0) {
		t.Fatalf("FromInt/FromFloat disagree")
	}
}

func TestNormalizeAngle(t *testing.T) {
	for _, f := range []float64{0, 1, 6.0, 6.5, 13.0, -1, -7.0} {
		n := NormalizeAngle(FromFloat(f))
		if n < 0 || n >= TwoPi {
			t.Fatalf("normalize(%v) = %v out of [0,2π)", f, n.Float())
		}
	}
	if NormalizeAngle(TwoPi) != 0 {
		t.Fatalf("normalize(2π) must wrap to 0")
	}
}

func TestSqrt(t *testing.T) {
	cases := []struct{ in, want float64 }{{0, 0}, {1, 1}, {4, 2}, {9, 3}, {2.25, 1.5}}
	for _, c := range cases {
		got := Sqrt(FromFloat(c.in)).Float()
		if got < c.want-0.001 || got > c.want+0.001 {
			t.Fatalf("sqrt(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestVec2(t *testing.T) {
	v := Vec2{FromInt(3), FromInt(4)}
	if got := v.Length(); got != FromInt(5) {
		t.Fatalf("|(3,4)| = %v, want 5", got.Float())
	}
	w := v.Add(Vec2{One, One}).Sub(Vec2{One, One})
	if w != v {
		t.Fatalf("add/sub not inverse: %+v", w)
	}
	s := v.Scale(Half)
	if s.X != FromFloat(1.5) || s.Y != FromInt(2) {
		t.Fatalf("scale: %+v", s)
	}
}
