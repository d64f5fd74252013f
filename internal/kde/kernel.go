package kde

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// KernelTable holds discretised Gaussian kernels for a range of bandwidths,
// indexed by [bandwidth bin][offset] with offset in [-HalfWidth, HalfWidth].
// Each bin's kernel is normalised to sum to one over its support. A
// KernelTable is immutable after construction.
type KernelTable struct {
	halfWidth int
	minBW     float64
	maxBW     float64
	bins      int
	step      float64

	weights []float64 // len = bins * (2*halfWidth+1)
	sums    []float64 // per-bin sums before normalisation
}

// NewKernelTable precomputes kernels for bandwidth bins
// minBW + bin*(maxBW-minBW)/bins, bin in [0, bins).
func NewKernelTable(halfWidth int, minBW, maxBW float64, bins int) (*KernelTable, error) {
	if halfWidth <= 0 {
		return nil, fmt.Errorf("%w: kernel half width must be positive, got %d", ErrInvalidConfig, halfWidth)
	}
	if bins <= 0 {
		return nil, fmt.Errorf("%w: kernel bins must be positive, got %d", ErrInvalidConfig, bins)
	}
	if !(minBW > 0) || !(maxBW > minBW) {
		return nil, fmt.Errorf("%w: degenerate bandwidth range [%g, %g]", ErrInvalidConfig, minBW, maxBW)
	}

	width := 2*halfWidth + 1
	kt := &KernelTable{
		halfWidth: halfWidth,
		minBW:     minBW,
		maxBW:     maxBW,
		bins:      bins,
		step:      (maxBW - minBW) / float64(bins),
		weights:   make([]float64, bins*width),
		sums:      make([]float64, bins),
	}

	for bin := 0; bin < bins; bin++ {
		sigma := kt.Bandwidth(bin)
		c1 := 1 / (sigma * math.Sqrt(2*math.Pi))
		c2 := -1 / (2 * sigma * sigma)
		row := kt.weights[bin*width : (bin+1)*width]

		sum := 0.0
		for x := 0; x <= halfWidth; x++ {
			v := c1 * math.Exp(float64(x*x)*c2)
			row[halfWidth+x] = v
			row[halfWidth-x] = v
			sum += 2 * v
		}
		// The centre was counted twice.
		sum -= row[halfWidth]
		kt.sums[bin] = sum

		for i := range row {
			row[i] /= sum
		}
	}
	return kt, nil
}

// HalfWidth returns the kernel support half width.
func (kt *KernelTable) HalfWidth() int { return kt.halfWidth }

// Bins returns the number of bandwidth bins.
func (kt *KernelTable) Bins() int { return kt.bins }

// Bandwidth returns the kernel standard deviation for bin.
func (kt *KernelTable) Bandwidth(bin int) float64 {
	return kt.minBW + float64(bin)*kt.step
}

// Step is the bandwidth spacing between adjacent bins.
func (kt *KernelTable) Step() float64 { return kt.step }

// BinFor maps a bandwidth to the nearest bin, clamped to the table range.
func (kt *KernelTable) BinFor(sigma float64) int {
	if math.IsNaN(sigma) || sigma <= kt.minBW {
		return 0
	}
	b := int(math.Round((sigma - kt.minBW) / kt.step))
	if b >= kt.bins {
		return kt.bins - 1
	}
	return b
}

// Weight returns the normalised kernel value at offset for bin. Offsets
// outside the support weigh zero; bins outside the table are clamped.
func (kt *KernelTable) Weight(bin, offset int) float64 {
	if offset < -kt.halfWidth || offset > kt.halfWidth {
		return 0
	}
	return kt.row(kt.clampBin(bin))[kt.halfWidth+offset]
}

// Row returns a copy of the normalised kernel for bin, indexed by
// offset+HalfWidth.
func (kt *KernelTable) Row(bin int) []float64 {
	src := kt.row(kt.clampBin(bin))
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Sum returns the kernel sum for bin before normalisation.
func (kt *KernelTable) Sum(bin int) float64 {
	return kt.sums[kt.clampBin(bin)]
}

// NormalizedSum returns the sum of the stored (normalised) kernel for bin.
func (kt *KernelTable) NormalizedSum(bin int) float64 {
	return floats.Sum(kt.row(kt.clampBin(bin)))
}

func (kt *KernelTable) row(bin int) []float64 {
	width := 2*kt.halfWidth + 1
	return kt.weights[bin*width : (bin+1)*width]
}

func (kt *KernelTable) clampBin(bin int) int {
	if bin < 0 {
		return 0
	}
	if bin >= kt.bins {
		return kt.bins - 1
	}
	return bin
}
