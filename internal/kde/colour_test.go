package kde

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bgsub/internal/testutil"
)

func TestColorRatios(t *testing.T) {
	t.Parallel()
	src := []byte{
		0, 0, 0,
		100, 50, 25,
		200, 100, 50,
		255, 255, 255,
	}
	dst := make([]byte, len(src))
	ColorRatios(dst, src)
	assert.Equal(t, []byte{
		0, neutralChroma, neutralChroma,
		58, 145, 72,
		116, 145, 72,
		255, 85, 85,
	}, dst)

	// In place.
	ColorRatios(src, src)
	assert.Equal(t, dst, src)
}

func TestBrightnessWindow(t *testing.T) {
	t.Parallel()
	w := newBrightnessWindow(0.3, 1, 100)
	// sample 58: [ceil(17.4-1), floor(min(193.3, 158))] = [17, 158]
	assert.False(t, w.admits(58, 16))
	assert.True(t, w.admits(58, 17))
	assert.True(t, w.admits(58, 158))
	assert.False(t, w.admits(58, 159))
	// A black sample only admits near-black pixels.
	assert.True(t, w.admits(0, 0))
	assert.False(t, w.admits(0, 1))
	assert.True(t, w.admits(255, 255))
}

func TestModel_ColourRatiosIgnoreIllumination(t *testing.T) {
	t.Parallel()
	base := testutil.ColorFrame(2, 2, 100, 50, 25)
	brighter := testutil.ColorFrame(2, 2, 200, 100, 50)
	otherHue := testutil.ColorFrame(2, 2, 25, 50, 100)
	tooDark := testutil.ColorFrame(2, 2, 5, 2, 1)

	cases := []struct {
		name   string
		ratios bool
		frame  []byte
		fg     int
	}{
		{"ratio same", true, base, 0},
		// Doubling brightness keeps chromaticity and stays inside the
		// brightness window.
		{"ratio brighter", true, brighter, 0},
		{"ratio other hue", true, otherHue, 4},
		{"ratio too dark", true, tooDark, 4},
		{"rgb same", false, base, 0},
		{"rgb brighter", false, brighter, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams(4)
			p.UseColorRatios = tc.ratios
			m := newModel(t, 2, 2, 3, p)
			learn(t, m, repeat(base, 4)...)

			mask, err := m.ClassifyAndUpdate(tc.frame)
			require.NoError(t, err)
			assert.Equal(t, tc.fg, testutil.CountNonZero(mask))
		})
	}
}

func TestModel_ColourModes(t *testing.T) {
	t.Parallel()
	gray := newModel(t, 1, 1, 1, testParams(2))
	assert.Equal(t, modeGray, gray.mode)

	ratio := newModel(t, 1, 1, 3, testParams(2))
	assert.Equal(t, modeRatio, ratio.mode)
	assert.Equal(t, "rgb-ratio", ratio.mode.String())

	p := testParams(2)
	p.UseColorRatios = false
	rgb := newModel(t, 1, 1, 3, p)
	assert.Equal(t, modeRGB, rgb.mode)
}
