// Package entropy seeds the dither offsets. Noise from the SoC temperature
// sensor and from clock jitter is folded into a 32-bit seed at boot, which
// then drives a PCG generator.
package entropy

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/StarGo/internal/debug"
)

// DefaultSamples is the number of readings folded per sampler at boot.
const DefaultSamples = 4096

// ThermalZone is the usual SoC temperature sensor on a Raspberry Pi.
const ThermalZone = "/sys/class/thermal/thermal_zone0/temp"

// Sampler yields one noisy reading.
type Sampler interface {
	Sample() (uint32, error)
}

// Accumulator folds readings with add-then-rotate so every bit of every
// reading influences the whole word.
type Accumulator struct {
	v uint32
}

// NewAccumulator starts from all ones.
func NewAccumulator() *Accumulator {
	return &Accumulator{v: ^uint32(0)}
}

// Add folds one reading.
func (a *Accumulator) Add(x uint32) {
	a.v = bits.RotateLeft32(a.v+x, 1)
}

// Sum returns the folded value.
func (a *Accumulator) Sum() uint32 { return a.v }

// ThermalSampler reads a sysfs thermal zone (millidegrees Celsius).
type ThermalSampler struct {
	Path string
}

func (t ThermalSampler) Sample() (uint32, error) {
	raw, err := os.ReadFile(t.Path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", t.Path, err)
	}
	return uint32(v), nil
}

// JitterSampler measures how long a short busy loop takes.
type JitterSampler struct{}

func (JitterSampler) Sample() (uint32, error) {
	start := time.Now()
	x := uint32(0)
	for i := 0; i < 64; i++ {
		x += uint32(i) * 2654435761
	}
	return uint32(time.Since(start).Nanoseconds()) ^ x, nil
}

// Seed folds n readings from every sampler. Samplers that fail are skipped.
func Seed(n int, samplers ...Sampler) uint32 {
	acc := NewAccumulator()
	for _, s := range samplers {
		folded := 0
		for i := 0; i < n; i++ {
			v, err := s.Sample()
			if err != nil {
				debug.Trace("entropy: %T: %v", s, err)
				break
			}
			acc.Add(v)
			folded++
		}
		debug.Verbose("entropy: %T folded %d readings", s, folded)
	}
	return acc.Sum()
}

// Source is a seeded pseudo-random generator. It belongs to the main loop.
type Source struct {
	rng *rand.Rand
}

// NewSource creates a generator from a 32-bit seed.
func NewSource(seed uint32) *Source {
	s := uint64(seed)
	return &Source{rng: rand.New(rand.NewPCG(s, s<<32|s^0x9E3779B9))}
}

// Next returns a uniformly distributed 32-bit value.
func (s *Source) Next() uint32 {
	return s.rng.Uint32()
}

// BootSource seeds a Source from the thermal sensor and clock jitter.
func BootSource() *Source {
	seed := Seed(DefaultSamples, ThermalSampler{Path: ThermalZone}, JitterSampler{})
	debug.Info("Random seed = %d (0x%x)", seed, seed)
	return NewSource(seed)
}
