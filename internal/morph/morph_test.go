package morph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bgsub/internal/testutil"
)

func newMorpher(t *testing.T, rows, cols int) *Morpher {
	t.Helper()
	m, err := New(rows, cols)
	require.NoError(t, err)
	return m
}

func TestNew_RejectsEmpty(t *testing.T) {
	t.Parallel()
	_, err := New(0, 4)
	assert.Error(t, err)
	_, err = New(4, -1)
	assert.Error(t, err)
}

func TestActivePixelIndex_InteriorOnly(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := testutil.ConstantFrame(5, 5, 1, On)

	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 7, 8, 11, 12, 13, 16, 17, 18}, active)

	_, err = m.ActivePixelIndex(mask[:4], nil)
	assert.True(t, errors.Is(err, ErrSize))
}

func TestExpand(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := make([]byte, 25)
	mask[12] = On
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)

	active, err = m.Expand(mask, active)
	require.NoError(t, err)
	assert.Equal(t, testutil.RectMask(5, 5, 1, 1, 3, 3), mask)
	assert.Equal(t, []int{6, 7, 8, 11, 12, 13, 16, 17, 18}, active)
}

func TestExpand_ReachesBorderButDoesNotIndexIt(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := make([]byte, 25)
	mask[6] = On // (1,1)
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)

	active, err = m.Expand(mask, active)
	require.NoError(t, err)
	assert.Equal(t, testutil.RectMask(5, 5, 0, 0, 2, 2), mask)
	assert.Equal(t, []int{6, 7, 11, 12}, active)
}

func TestShrink(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := testutil.RectMask(5, 5, 1, 1, 3, 3)
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)

	active, err = m.Shrink(mask, active)
	require.NoError(t, err)
	assert.Equal(t, []int{12}, active)
	assert.Equal(t, 1, testutil.CountNonZero(mask))
	assert.Equal(t, On, mask[12])
}

func TestShrink_RemovesIsolatedAndBorderPixels(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := make([]byte, 25)
	mask[0] = On
	mask[12] = On
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)
	require.Equal(t, []int{12}, active)

	active, err = m.Shrink(mask, active)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Zero(t, testutil.CountNonZero(mask))
}

func TestExpandThenShrinkClosesGaps(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 7, 7)
	// Two blobs separated by a one-pixel gap.
	mask := make([]byte, 49)
	for _, p := range []int{2*7 + 2, 2*7 + 4, 3*7 + 2, 3*7 + 4} {
		mask[p] = On
	}
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)
	active, err = m.Expand(mask, active)
	require.NoError(t, err)
	active, err = m.Shrink(mask, active)
	require.NoError(t, err)

	assert.Equal(t, On, mask[2*7+3], "gap filled")
	assert.Equal(t, On, mask[3*7+3], "gap filled")
	for _, p := range []int{2*7 + 2, 2*7 + 4, 3*7 + 2, 3*7 + 4} {
		assert.Equal(t, On, mask[p], "original pixel %d kept", p)
	}
	assert.Len(t, active, 6)
}

func TestExpandHysteresis(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	mask := make([]byte, 25)
	mask[12] = On
	density := make([]float64, 25)
	for i := range density {
		density[i] = 1
	}
	density[13] = 1e-9 // weak foreground to the right

	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)
	active, err = m.ExpandHysteresis(mask, active, density, 1e-6)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 13}, active)
	assert.Equal(t, 2, testutil.CountNonZero(mask))

	_, err = m.ExpandHysteresis(mask, active, nil, 1e-6)
	assert.True(t, errors.Is(err, ErrSize))
	_, err = m.ExpandHysteresis(mask, active, density[:3], 1e-6)
	assert.True(t, errors.Is(err, ErrSize))
}

func TestShrinkHysteresis(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 5, 5)
	cases := []struct {
		name    string
		density float64
		want    int
	}{
		{"strong foreground kept", 0, 1},
		{"weak foreground removed", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mask := make([]byte, 25)
			mask[12] = On
			density := make([]float64, 25)
			for i := range density {
				density[i] = 1
			}
			density[12] = tc.density

			active, err := m.ActivePixelIndex(mask, nil)
			require.NoError(t, err)
			active, err = m.ShrinkHysteresis(mask, active, density, 1e-6)
			require.NoError(t, err)
			assert.Len(t, active, tc.want)
			assert.Equal(t, tc.want, testutil.CountNonZero(mask))
		})
	}
}

func TestOperations_RejectBorderIndices(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 4, 4)
	density := make([]float64, 16)
	cases := []struct {
		name  string
		index int
	}{
		{"top-left corner", 0},
		{"right edge", 7},
		{"left edge", 8},
		{"bottom-right corner", 15},
		{"negative", -1},
		{"past end", 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mask := make([]byte, 16)
			ops := map[string]func() ([]int, error){
				"Expand":           func() ([]int, error) { return m.Expand(mask, []int{tc.index}) },
				"Shrink":           func() ([]int, error) { return m.Shrink(mask, []int{tc.index}) },
				"ExpandHysteresis": func() ([]int, error) { return m.ExpandHysteresis(mask, []int{tc.index}, density, 1) },
				"ShrinkHysteresis": func() ([]int, error) { return m.ShrinkHysteresis(mask, []int{tc.index}, density, 1) },
			}
			for name, op := range ops {
				_, err := op()
				assert.ErrorIs(t, err, ErrIndex, name)
			}
			assert.Equal(t, make([]byte, 16), mask, "mask must be untouched")
		})
	}
}

func TestExpand_RightmostInteriorDoesNotWrap(t *testing.T) {
	t.Parallel()
	m := newMorpher(t, 4, 4)
	mask := make([]byte, 16)
	mask[6] = On // (1,2), last interior column
	active, err := m.ActivePixelIndex(mask, nil)
	require.NoError(t, err)
	require.Equal(t, []int{6}, active)

	_, err = m.Expand(mask, active)
	require.NoError(t, err)
	assert.Equal(t, testutil.RectMask(4, 4, 0, 1, 2, 3), mask)
}
