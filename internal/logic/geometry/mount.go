package geometry

import (
	"math"

	"github.com/cjeanneret/StarGo/internal/config"
)

// SiderealDay is the rotation period of the Earth relative to the stars (23h56m04s).
const SiderealDay = 23*3600 + 56*60 + 4.0

// SiderealRate is the Earth's angular velocity relative to the stars, in rad/s.
const SiderealRate = 2 * math.Pi / SiderealDay

// travelEpsilon absorbs floating point noise when comparing rod lengths to the travel limit.
const travelEpsilon = 1e-9

// Mount models the barn-door hinge: two arms of length R joined at the hinge,
// with the threaded rod spanning the opposite side of the isosceles triangle.
// It is immutable once created.
type Mount struct {
	r      float64 // arm length (mm)
	startL float64 // rod length in the closed position (mm)
	maxL   float64 // rod length at the end of travel (mm)
}

// NewMount creates the geometry model from configuration.
func NewMount(cfg *config.Config) *Mount {
	return &Mount{
		r:      cfg.Geometry.RMm,
		startL: cfg.Geometry.StartLMm,
		maxL:   cfg.Geometry.MaxLMm,
	}
}

// AngleOf returns the hinge opening angle (rad) for a rod length.
// Formula: angle = 2 × asin(length / (2 × R))
// The asin argument is clamped to [-1, 1] so lengths beyond 2R saturate at π.
func AngleOf(r, length float64) float64 {
	x := length / (2 * r)
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return 2 * math.Asin(x)
}

// LengthOf returns the rod length (mm) for a hinge opening angle.
// Formula: length = 2 × R × sin(angle / 2)
func LengthOf(r, angle float64) float64 {
	return 2 * r * math.Sin(angle/2)
}

// AngleOf returns the hinge angle for a rod length on this mount.
func (m *Mount) AngleOf(length float64) float64 {
	return AngleOf(m.r, length)
}

// LengthOf returns the rod length for a hinge angle on this mount.
func (m *Mount) LengthOf(angle float64) float64 {
	return LengthOf(m.r, angle)
}

// R returns the arm length.
func (m *Mount) R() float64 { return m.r }

// StartL returns the rod length in the closed position.
func (m *Mount) StartL() float64 { return m.startL }

// MaxL returns the rod length at the end of travel.
func (m *Mount) MaxL() float64 { return m.maxL }

// MinAngle returns the hinge angle in the closed position.
func (m *Mount) MinAngle() float64 {
	return m.AngleOf(m.startL)
}

// MaxAngle returns the hinge angle at the end of travel.
func (m *Mount) MaxAngle() float64 {
	return m.AngleOf(m.maxL)
}

// AtTravelLimit reports whether the rod has reached (or passed) the end of travel.
func (m *Mount) AtTravelLimit(length float64) bool {
	return length >= m.maxL-travelEpsilon
}

// SiderealVelocity returns the rod velocity (mm/s) that keeps the hinge angle
// advancing at sidereal rate when the mount is at the given angle.
//
// The derivative of LengthOf is taken numerically over a symmetric angle
// perturbation; its size only affects precision.
func (m *Mount) SiderealVelocity(angle float64) float64 {
	const dAngle = 1e-8
	dl := m.LengthOf(angle+dAngle) - m.LengthOf(angle-dAngle)
	dt := 2 * dAngle / SiderealRate
	return dl / dt
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
