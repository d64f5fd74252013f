package kde

import "math"

// neutralChroma is the chromaticity reported for black pixels, where the
// ratios are undefined.
const neutralChroma = 85

// ColorRatios converts interleaved RGB triples in src into
// (brightness, red chromaticity, green chromaticity) triples in dst:
// brightness is (R+G+B)/3 and each chromaticity is the channel's share of
// R+G+B scaled to [0,255]. dst and src may be the same slice.
func ColorRatios(dst, src []byte) {
	n := len(src) / 3
	for i := 0; i < n; i++ {
		r := int(src[3*i])
		g := int(src[3*i+1])
		b := int(src[3*i+2])
		s := r + g + b
		dst[3*i] = byte(s / 3)
		if s == 0 {
			dst[3*i+1] = neutralChroma
			dst[3*i+2] = neutralChroma
			continue
		}
		dst[3*i+1] = byte(r * 255 / s)
		dst[3*i+2] = byte(g * 255 / s)
	}
}

// brightnessWindow precomputes, for every sample brightness s, the inclusive
// range of current brightness values admissible against it:
// [alpha*s - beta, min(s/alpha, s + betaU)].
type brightnessWindow struct {
	lo [256]int
	hi [256]int
}

func newBrightnessWindow(alpha, beta, betaU float64) brightnessWindow {
	var w brightnessWindow
	for s := 0; s < 256; s++ {
		fs := float64(s)
		lo := math.Ceil(alpha*fs - beta)
		hi := math.Floor(math.Min(fs/alpha, fs+betaU))
		w.lo[s] = int(math.Max(lo, 0))
		w.hi[s] = int(math.Min(hi, 255))
	}
	return w
}

func (w *brightnessWindow) admits(sample, current byte) bool {
	c := int(current)
	return c >= w.lo[sample] && c <= w.hi[sample]
}
