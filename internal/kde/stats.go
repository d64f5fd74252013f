package kde

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises the model for diagnostics and run records.
type Stats struct {
	State              State
	Frames             int
	UpdateCycles       int
	ForegroundPixels   int     // in the last ClassifyAndUpdate frame
	ForegroundFraction float64 // ForegroundPixels / pixels
	BandwidthMean      float64 // over every pixel channel; zero before estimation
	BandwidthStdDev    float64
	BandwidthMedian    float64
	KernelBins         int
}

// Stats computes the current summary. Bandwidth figures are only filled in
// once the kernel table exists.
func (m *Model) Stats() Stats {
	st := Stats{
		State:              m.state,
		Frames:             m.frames,
		UpdateCycles:       m.cycles,
		ForegroundPixels:   m.lastForeground,
		ForegroundFraction: float64(m.lastForeground) / float64(m.pixels),
	}
	if m.kt == nil {
		return st
	}
	st.KernelBins = m.kt.bins
	bw := m.Bandwidths()
	st.BandwidthMean, st.BandwidthStdDev = stat.MeanStdDev(bw, nil)
	sort.Float64s(bw)
	st.BandwidthMedian = stat.Quantile(0.5, stat.Empirical, bw, nil)
	return st
}

// Bandwidths returns the kernel bandwidth of every pixel channel in frame
// order, or nil before estimation.
func (m *Model) Bandwidths() []float64 {
	if m.kt == nil {
		return nil
	}
	out := make([]float64, len(m.bwBins))
	for i, b := range m.bwBins {
		out[i] = m.kt.Bandwidth(int(b))
	}
	return out
}
