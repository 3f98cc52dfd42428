package tracking

import (
	"math"
	"testing"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
	"github.com/cjeanneret/StarGo/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T) (*SpeedController, *sim.Plant) {
	t.Helper()
	cfg := config.Default()
	p := sim.New(cfg)
	return NewSpeedController(p.Mount, p.Calc, p.Tracker, p.Motor, p, p), p
}

// expectedRPS is the closed form of the numerical derivative used by Recalc.
func expectedRPS(p *sim.Plant, angle float64) float64 {
	v := p.Mount.R() * math.Cos(angle/2) * geometry.SiderealRate
	return v / 0.8
}

func TestRecalc_AtClosedPosition(t *testing.T) {
	s, p := newController(t)

	s.Recalc(true)

	rps, forward := p.Pulses.Rate()
	require.True(t, p.Pulses.Running())
	assert.True(t, forward)
	assert.Greater(t, rps, 0.0)

	wantAngle := geometry.AngleOf(133.8, 44.2)
	assert.InDelta(t, expectedRPS(p, wantAngle), rps, 1e-7)
	assert.InDelta(t, expectedRPS(p, wantAngle), s.LastRate(), 1e-7)

	a, ok := s.Anchor()
	require.True(t, ok)
	assert.Equal(t, wantAngle, a.Angle)
	assert.Equal(t, p.Now(), a.Tick)
}

func TestRecalc_AtTravelLimitStops(t *testing.T) {
	s, p := newController(t)
	s.Recalc(true)
	require.True(t, p.Pulses.Running())

	p.SetLength(180.0)
	require.InDelta(t, 180.0, p.Tracker.Length(), 1e-9)

	s.Recalc(false)
	assert.False(t, p.Pulses.Running(), "rod at MaxL must not be driven")
	assert.Zero(t, s.LastRate())
	assert.False(t, p.Motor.Last().Running)
}

func TestRecalc_BeyondTravelLimitStops(t *testing.T) {
	s, p := newController(t)
	p.SetLength(185)
	s.Recalc(true)
	assert.False(t, p.Pulses.Running())
	_, ok := s.Anchor()
	assert.False(t, ok, "anchor stored while paused at the end of travel")
}

func TestRecalc_RateGrowsTowardClosedPosition(t *testing.T) {
	s, p := newController(t)
	s.Recalc(false)
	closed := s.LastRate()

	p.SetLength(150)
	s.Recalc(false)
	open := s.LastRate()

	// dL/dθ = R·cos(θ/2) shrinks as the hinge opens
	assert.Less(t, open, closed)
	assert.InDelta(t, expectedRPS(p, p.Angle()), open, 1e-7)
}

func TestRecalc_StoreAnchorNotifies(t *testing.T) {
	s, p := newController(t)
	var got []uint32
	s.OnAnchor(func(now uint32) { got = append(got, now) })

	p.Advance(42)
	s.Recalc(false)
	assert.Empty(t, got)

	s.Recalc(true)
	assert.Equal(t, []uint32{42}, got)
}

func TestIdealAngle_AdvancesAtSiderealRate(t *testing.T) {
	s, p := newController(t)
	s.Recalc(true)
	a, _ := s.Anchor()

	p.SetNow(p.Now() + 1000) // 1 s at 1 kHz
	assert.InDelta(t, a.Angle+geometry.SiderealRate, s.IdealAngle(p.Now()), 1e-12)
}

func TestIdealAngle_WrapSafe(t *testing.T) {
	s, p := newController(t)
	p.SetNow(math.MaxUint32 - 100)
	s.Recalc(true)
	a, _ := s.Anchor()

	p.SetNow(p.Now() + 600) // wraps past zero
	require.Less(t, p.Now(), a.Tick)
	assert.InDelta(t, a.Angle+0.6*geometry.SiderealRate, s.IdealAngle(p.Now()), 1e-12)
}

func TestIdealAngle_WithoutAnchor(t *testing.T) {
	s, p := newController(t)
	p.SetLength(100)
	assert.Equal(t, p.Angle(), s.IdealAngle(p.Now()))
}

func TestTracking_FollowsIdealAngle(t *testing.T) {
	s, p := newController(t)
	s.Start(true)

	// ten minutes of tracking with a recalculation every 500 ms
	for i := 0; i < 1200; i++ {
		p.Advance(500)
		s.Recalc(false)
	}

	assert.InDelta(t, s.IdealAngle(p.Now()), s.CurrentAngle(), 1e-5,
		"hinge drifted from the sidereal extrapolation")
	assert.Greater(t, s.CurrentAngle(), p.Mount.MinAngle())
}

func TestStart_StopsThenDrivesForward(t *testing.T) {
	s, p := newController(t)
	p.SetLength(120)
	p.Motor.Drive(3, false)
	p.Advance(5)

	before := p.Pulses.Commands
	s.Start(false)

	rps, forward := p.Pulses.Rate()
	assert.True(t, p.Pulses.Running())
	assert.True(t, forward)
	assert.InDelta(t, s.LastRate(), rps, 1e-12)
	assert.Equal(t, before+1, p.Pulses.Commands)
	_, ok := s.Anchor()
	assert.False(t, ok)
}
