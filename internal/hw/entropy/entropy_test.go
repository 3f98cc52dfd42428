package entropy

import (
	"errors"
	"math/bits"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_AddRotates(t *testing.T) {
	a := NewAccumulator()
	assert.Equal(t, ^uint32(0), a.Sum())

	a.Add(1) // 0xFFFFFFFF + 1 wraps to 0
	assert.Equal(t, uint32(0), a.Sum())

	a.Add(0x80000000)
	assert.Equal(t, uint32(1), a.Sum(), "top bit must rotate into bit 0")

	a.Add(2)
	assert.Equal(t, bits.RotateLeft32(3, 1), a.Sum())
}

type fixedSampler struct {
	vals []uint32
	i    int
}

func (f *fixedSampler) Sample() (uint32, error) {
	v := f.vals[f.i%len(f.vals)]
	f.i++
	return v, nil
}

type failingSampler struct{ calls int }

func (f *failingSampler) Sample() (uint32, error) {
	f.calls++
	return 0, errors.New("no sensor")
}

func TestSeed_Deterministic(t *testing.T) {
	a := Seed(100, &fixedSampler{vals: []uint32{42000, 42500, 41800}})
	b := Seed(100, &fixedSampler{vals: []uint32{42000, 42500, 41800}})
	c := Seed(100, &fixedSampler{vals: []uint32{42000, 42500, 41801}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSeed_SkipsFailingSampler(t *testing.T) {
	bad := &failingSampler{}
	got := Seed(50, bad, &fixedSampler{vals: []uint32{7}})
	want := Seed(50, &fixedSampler{vals: []uint32{7}})
	assert.Equal(t, want, got)
	assert.Equal(t, 1, bad.calls, "failing sampler should be abandoned after the first error")
}

func TestThermalSampler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.WriteFile(path, []byte("48312\n"), 0o644))

	v, err := ThermalSampler{Path: path}.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint32(48312), v)

	require.NoError(t, os.WriteFile(path, []byte("hot"), 0o644))
	_, err = ThermalSampler{Path: path}.Sample()
	assert.Error(t, err)

	_, err = ThermalSampler{Path: filepath.Join(t.TempDir(), "missing")}.Sample()
	assert.Error(t, err)
}

func TestJitterSampler(t *testing.T) {
	_, err := JitterSampler{}.Sample()
	assert.NoError(t, err)
}

func TestSource_Reproducible(t *testing.T) {
	a, b := NewSource(1234), NewSource(1234)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
	assert.NotEqual(t, NewSource(1).Next(), NewSource(2).Next())
}

func TestSource_CoversBothHalves(t *testing.T) {
	s := NewSource(99)
	var low, high int
	for i := 0; i < 10000; i++ {
		if s.Next() < 1<<31 {
			low++
		} else {
			high++
		}
	}
	assert.InDelta(t, 5000, low, 300)
	assert.InDelta(t, 5000, high, 300)
}
