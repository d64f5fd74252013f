// Package morph implements binary morphology over foreground masks driven by
// a sparse list of active pixel indices.
//
// Only interior pixels are ever indexed: the one-pixel frame border is never
// active. Expand may set border pixels in the mask, but they never enter the
// index, and Shrink clears them. Operations reject an index list holding a
// border or out-of-range pixel with ErrIndex and leave the mask untouched.
package morph

import (
	"errors"
	"fmt"
)

// On is the mask value written for active pixels.
const On byte = 255

// ErrSize is returned when a mask or density image does not match the
// Morpher's dimensions.
var ErrSize = errors.New("morph: size mismatch")

// ErrIndex is returned when an active index is not an interior pixel.
var ErrIndex = errors.New("morph: index not interior")

// Morpher applies indexed morphology to masks of fixed dimensions. It keeps a
// scratch copy of the mask between calls and is not safe for concurrent use.
type Morpher struct {
	rows, cols int
	scratch    []byte
	offsets    [8]int
}

// New returns a Morpher for rows×cols masks.
func New(rows, cols int) (*Morpher, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("morph: dimensions must be positive, got %dx%d", rows, cols)
	}
	return &Morpher{
		rows:    rows,
		cols:    cols,
		scratch: make([]byte, rows*cols),
		offsets: [8]int{-cols - 1, -cols, -cols + 1, -1, 1, cols - 1, cols, cols + 1},
	}, nil
}

func (m *Morpher) check(mask []byte, density []float64) error {
	n := m.rows * m.cols
	if len(mask) != n {
		return fmt.Errorf("%w: mask has %d pixels, want %d", ErrSize, len(mask), n)
	}
	if density != nil && len(density) != n {
		return fmt.Errorf("%w: density has %d pixels, want %d", ErrSize, len(density), n)
	}
	return nil
}

// checkActive verifies that every index has all 8 neighbours inside the
// frame, so neighbour offsets never leave the buffer or wrap across rows.
func (m *Morpher) checkActive(active []int) error {
	for _, p := range active {
		r, c := p/m.cols, p%m.cols
		if p < 0 || r < 1 || r >= m.rows-1 || c < 1 || c >= m.cols-1 {
			return fmt.Errorf("%w: %d in %dx%d", ErrIndex, p, m.rows, m.cols)
		}
	}
	return nil
}

// ActivePixelIndex appends the linear index of every non-zero interior pixel
// of mask to dst[:0] and returns it.
func (m *Morpher) ActivePixelIndex(mask []byte, dst []int) ([]int, error) {
	if err := m.check(mask, nil); err != nil {
		return nil, err
	}
	return m.index(mask, dst[:0]), nil
}

func (m *Morpher) index(mask []byte, dst []int) []int {
	for r := 1; r < m.rows-1; r++ {
		row := r * m.cols
		for c := 1; c < m.cols-1; c++ {
			if mask[row+c] != 0 {
				dst = append(dst, row+c)
			}
		}
	}
	return dst
}

// Expand sets the 8 neighbours of every active pixel in mask and returns
// the rebuilt index. active must hold interior indices, as produced by
// ActivePixelIndex; its backing array is reused.
func (m *Morpher) Expand(mask []byte, active []int) ([]int, error) {
	if err := m.check(mask, nil); err != nil {
		return nil, err
	}
	if err := m.checkActive(active); err != nil {
		return nil, err
	}
	for _, p := range active {
		for _, o := range m.offsets {
			mask[p+o] = On
		}
	}
	return m.index(mask, active[:0]), nil
}

// Shrink clears every pixel that is not active with all 8 neighbours set,
// and returns the rebuilt index.
func (m *Morpher) Shrink(mask []byte, active []int) ([]int, error) {
	if err := m.check(mask, nil); err != nil {
		return nil, err
	}
	if err := m.checkActive(active); err != nil {
		return nil, err
	}
	return m.shrink(mask, active, nil, 0), nil
}

// ExpandHysteresis sets those neighbours of active pixels whose density is
// below th, growing strong foreground cores into adjacent weak foreground.
func (m *Morpher) ExpandHysteresis(mask []byte, active []int, density []float64, th float64) ([]int, error) {
	if density == nil {
		return nil, fmt.Errorf("%w: density image required", ErrSize)
	}
	if err := m.check(mask, density); err != nil {
		return nil, err
	}
	if err := m.checkActive(active); err != nil {
		return nil, err
	}
	for _, p := range active {
		for _, o := range m.offsets {
			if n := p + o; density[n] < th {
				mask[n] = On
			}
		}
	}
	return m.index(mask, active[:0]), nil
}

// ShrinkHysteresis keeps active pixels whose density is below th or whose 8
// neighbours are all set, and returns the rebuilt index.
func (m *Morpher) ShrinkHysteresis(mask []byte, active []int, density []float64, th float64) ([]int, error) {
	if density == nil {
		return nil, fmt.Errorf("%w: density image required", ErrSize)
	}
	if err := m.check(mask, density); err != nil {
		return nil, err
	}
	if err := m.checkActive(active); err != nil {
		return nil, err
	}
	return m.shrink(mask, active, density, th), nil
}

func (m *Morpher) shrink(mask []byte, active []int, density []float64, th float64) []int {
	copy(m.scratch, mask)
	clear(mask)
	for _, p := range active {
		if density != nil && density[p] < th {
			mask[p] = On
			continue
		}
		keep := true
		for _, o := range m.offsets {
			if m.scratch[p+o] == 0 {
				keep = false
				break
			}
		}
		if keep {
			mask[p] = On
		}
	}
	return m.index(mask, active[:0])
}
