package kde

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

func resolveWorkers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// forRows splits the image into contiguous row bands and calls fn with the
// pixel range of each band. Bands never share a pixel, so fn may write
// per-pixel state without locking.
func (m *Model) forRows(fn func(p0, p1 int) error) error {
	workers := m.workers
	if workers > m.rows {
		workers = m.rows
	}
	if workers <= 1 {
		return fn(0, m.pixels)
	}

	band := (m.rows + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for r0 := 0; r0 < m.rows; r0 += band {
		r1 := min(r0+band, m.rows)
		g.Go(func() error {
			return fn(r0*m.cols, r1*m.cols)
		})
	}
	return g.Wait()
}
