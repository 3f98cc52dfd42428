package geometry

import (
	"math"
	"testing"

	"github.com/cjeanneret/StarGo/internal/config"
)

const epsilon = 1e-9 // tolerance for float comparisons (radians / mm)

func newReferenceMount() *Mount {
	return NewMount(config.Default())
}

func TestAngleOf_RoundTrip(t *testing.T) {
	m := newReferenceMount()
	// angle_of(length_of(θ)) ≈ θ over the whole open interval (0, π).
	for i := 1; i < 1000; i++ {
		theta := math.Pi * float64(i) / 1000
		got := m.AngleOf(m.LengthOf(theta))
		// asin loses precision near π (the derivative blows up), so widen the tolerance there.
		tol := 1e-12 / math.Max(math.Cos(theta/2), 1e-6)
		if tol < epsilon {
			tol = epsilon
		}
		if math.Abs(got-theta) > tol {
			t.Fatalf("AngleOf(LengthOf(%v)) = %v, diff %g > %g", theta, got, math.Abs(got-theta), tol)
		}
	}
}

func TestLengthOf_RoundTrip(t *testing.T) {
	m := newReferenceMount()
	for _, l := range []float64{1, 44.2, 100, 180, 250} {
		got := m.LengthOf(m.AngleOf(l))
		if math.Abs(got-l) > 1e-9 {
			t.Errorf("LengthOf(AngleOf(%v)) = %v", l, got)
		}
	}
}

func TestAngleOf_KnownValues(t *testing.T) {
	// Equilateral triangle: length == R opens the hinge by 60°.
	if got := AngleOf(133.8, 133.8); math.Abs(got-math.Pi/3) > epsilon {
		t.Errorf("AngleOf(R, R) = %v, want π/3", got)
	}
	if got := AngleOf(133.8, 0); got != 0 {
		t.Errorf("AngleOf(R, 0) = %v, want 0", got)
	}
	if got := AngleOf(133.8, 2*133.8); math.Abs(got-math.Pi) > epsilon {
		t.Errorf("AngleOf(R, 2R) = %v, want π", got)
	}
}

func TestAngleOf_OutOfDomainIsClamped(t *testing.T) {
	cases := []struct {
		name   string
		length float64
		want   float64
	}{
		{"just_beyond_2R", 2*133.8 + 1e-12, math.Pi},
		{"far_beyond_2R", 1000, math.Pi},
		{"negative_beyond_2R", -1000, -math.Pi},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AngleOf(133.8, tc.length)
			if math.IsNaN(got) {
				t.Fatalf("AngleOf(%v) returned NaN", tc.length)
			}
			if math.Abs(got-tc.want) > epsilon {
				t.Errorf("AngleOf(%v) = %v, want %v", tc.length, got, tc.want)
			}
		})
	}
}

func TestMount_Limits(t *testing.T) {
	m := newReferenceMount()
	if got, want := m.MinAngle(), 2*math.Asin(44.2/(2*133.8)); math.Abs(got-want) > epsilon {
		t.Errorf("MinAngle() = %v, want %v", got, want)
	}
	if got, want := m.MaxAngle(), 2*math.Asin(180.0/(2*133.8)); math.Abs(got-want) > epsilon {
		t.Errorf("MaxAngle() = %v, want %v", got, want)
	}
	if m.AtTravelLimit(179.99) {
		t.Error("179.99 mm should be inside travel")
	}
	if !m.AtTravelLimit(180.0) {
		t.Error("180.0 mm should be at the travel limit")
	}
	if !m.AtTravelLimit(180.0 - 1e-12) {
		t.Error("rounding noise below MaxL should count as the travel limit")
	}
	if !m.AtTravelLimit(181) {
		t.Error("181 mm should be past the travel limit")
	}
}

func TestMount_SiderealVelocity(t *testing.T) {
	m := newReferenceMount()
	angle := m.MinAngle()
	got := m.SiderealVelocity(angle)
	// Analytic derivative: dL/dt = R × cos(θ/2) × ω
	want := m.R() * math.Cos(angle/2) * SiderealRate
	if got <= 0 {
		t.Fatalf("SiderealVelocity() = %v, want positive", got)
	}
	if math.Abs(got-want)/want > 1e-5 {
		t.Errorf("SiderealVelocity() = %v, want ~%v", got, want)
	}

	// The rod has to move slower as the hinge opens.
	if wide := m.SiderealVelocity(m.MaxAngle()); wide >= got {
		t.Errorf("velocity at max angle %v should be below velocity at min angle %v", wide, got)
	}
}

func TestSiderealRate(t *testing.T) {
	if SiderealDay != 86164 {
		t.Errorf("SiderealDay = %v, want 86164", SiderealDay)
	}
	if math.Abs(SiderealRate-7.292e-5) > 1e-8 {
		t.Errorf("SiderealRate = %v, want ~7.292e-5", SiderealRate)
	}
}

func TestDegreesRadians(t *testing.T) {
	if got := Degrees(math.Pi); math.Abs(got-180) > epsilon {
		t.Errorf("Degrees(π) = %v", got)
	}
	if got := Radians(90); math.Abs(got-math.Pi/2) > epsilon {
		t.Errorf("Radians(90) = %v", got)
	}
}
