package kde

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultKernelTable(t *testing.T) *KernelTable {
	t.Helper()
	kt, err := NewKernelTable(DefaultKernelHalfWidth, DefaultMinBandwidth, DefaultMaxBandwidth, DefaultBandwidthBins)
	require.NoError(t, err)
	return kt
}

func TestKernelTable_Normalised(t *testing.T) {
	t.Parallel()
	kt := defaultKernelTable(t)
	for bin := 0; bin < kt.Bins(); bin++ {
		assert.InDelta(t, 1.0, kt.NormalizedSum(bin), 1e-9, "bin %d", bin)
		assert.Greater(t, kt.Sum(bin), 0.0, "bin %d", bin)
	}
}

func TestKernelTable_Symmetric(t *testing.T) {
	t.Parallel()
	kt := defaultKernelTable(t)
	for bin := 0; bin < kt.Bins(); bin++ {
		for x := 1; x <= kt.HalfWidth(); x++ {
			if kt.Weight(bin, x) != kt.Weight(bin, -x) {
				t.Fatalf("bin %d offset %d: %g != %g", bin, x, kt.Weight(bin, x), kt.Weight(bin, -x))
			}
		}
	}
}

func TestKernelTable_PeaksAtZeroAndDecays(t *testing.T) {
	t.Parallel()
	kt := defaultKernelTable(t)
	for _, bin := range []int{0, 10, kt.Bins() - 1} {
		prev := kt.Weight(bin, 0)
		for x := 1; x <= 20; x++ {
			w := kt.Weight(bin, x)
			assert.LessOrEqual(t, w, prev, "bin %d offset %d", bin, x)
			prev = w
		}
	}
}

func TestKernelTable_UnnormalisedMatchesGaussian(t *testing.T) {
	t.Parallel()
	kt, err := NewKernelTable(10, 1, 5, 4)
	require.NoError(t, err)

	// bin 0 has sigma 1; its normalised centre is the density at 0 over the
	// discrete sum.
	sigma := kt.Bandwidth(0)
	require.Equal(t, 1.0, sigma)
	centre := 1 / (sigma * math.Sqrt(2*math.Pi))
	assert.InDelta(t, centre/kt.Sum(0), kt.Weight(0, 0), 1e-12)
}

func TestKernelTable_OutsideSupport(t *testing.T) {
	t.Parallel()
	kt, err := NewKernelTable(5, 0.5, 4.5, 8)
	require.NoError(t, err)
	assert.Zero(t, kt.Weight(0, 6))
	assert.Zero(t, kt.Weight(0, -6))
	// Bins outside the table clamp rather than panic.
	assert.Equal(t, kt.Weight(0, 1), kt.Weight(-3, 1))
	assert.Equal(t, kt.Weight(7, 1), kt.Weight(99, 1))
	assert.Len(t, kt.Row(2), 11)
}

func TestKernelTable_BinForRoundTrip(t *testing.T) {
	t.Parallel()
	kt := defaultKernelTable(t)
	for bin := 0; bin < kt.Bins(); bin++ {
		assert.Equal(t, bin, kt.BinFor(kt.Bandwidth(bin)))
	}
	assert.Equal(t, 0, kt.BinFor(0))
	assert.Equal(t, 0, kt.BinFor(math.NaN()))
	assert.Equal(t, kt.Bins()-1, kt.BinFor(1000))
}

func TestKernelTable_RejectsDegenerateInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		half     int
		min, max float64
		bins     int
	}{
		{"equal range", 10, 2, 2, 10},
		{"inverted range", 10, 3, 1, 10},
		{"zero min", 10, 0, 5, 10},
		{"zero half width", 0, 0.5, 5, 10},
		{"zero bins", 10, 0.5, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewKernelTable(tc.half, tc.min, tc.max, tc.bins)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}
