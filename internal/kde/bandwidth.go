package kde

import "math"

// medianToSigma relates the median absolute difference of two independent
// normal samples to their standard deviation: median |x1-x2| = 0.68*sqrt(2)*sigma.
var medianToSigma = 0.68 * math.Sqrt2

// BandwidthFromMedian converts a median absolute consecutive difference to a
// kernel bandwidth, applying the discretisation correction factor.
func BandwidthFromMedian(median, correction float64) float64 {
	return correction * median / medianToSigma
}

// estimateBins assigns bandwidth bins for pixels [p0, p1) from the current
// difference histograms.
func (m *Model) estimateBins(p0, p1 int) {
	ch := m.channels
	for p := p0; p < p1; p++ {
		for c := 0; c < ch; c++ {
			sigma := BandwidthFromMedian(m.hist.median(p, c), m.p.MedianCorrection)
			m.bwBins[p*ch+c] = uint8(m.kt.BinFor(sigma))
		}
	}
}

// refreshBandwidths recomputes every pixel's bandwidth bins from the
// maintained histograms, without recounting them.
func (m *Model) refreshBandwidths() error {
	if m.hist == nil {
		return nil
	}
	return m.forRows(func(p0, p1 int) error {
		m.estimateBins(p0, p1)
		return nil
	})
}
