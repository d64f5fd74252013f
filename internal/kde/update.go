package kde

import "math"

// stagnation tracks consecutive foreground frames per pixel and derives the
// mask recorded in the temporal buffer. A pixel that stays foreground for
// more than ResetMaskTh frames is recorded as background so its reservoir
// keeps being refreshed.
func (m *Model) stagnation(mask []byte, p0, p1 int) {
	th := uint32(m.p.ResetMaskTh)
	for p := p0; p < p1; p++ {
		if mask[p] == Background {
			m.acc[p] = 0
			m.updMask[p] = Background
			continue
		}
		if m.acc[p] < math.MaxUint32 {
			m.acc[p]++
		}
		if th > 0 && m.acc[p] > th {
			m.updMask[p] = Background
		} else {
			m.updMask[p] = Foreground
		}
	}
}

// replacePairs overwrites two consecutive reservoir slots per eligible pixel
// in [p0, p1) with the two newest temporal buffer frames. Pixels that were
// foreground in either frame are skipped. Histogram counts for every pair
// touching the replaced slots are removed before the write and added back
// after it, so the histogram stays equal to a full recount.
func (m *Model) replacePairs(older, newer int, p0, p1 int) {
	ch := m.channels
	size := m.p.SampleSize
	fa, fb := m.tb.frame(older), m.tb.frame(newer)
	ma, mb := m.tb.mask(older), m.tb.mask(newer)

	for p := p0; p < p1; p++ {
		if ma[p] != Background || mb[p] != Background {
			continue
		}
		a := int(m.pixelTop[p])
		b := (a + 1) % size
		hist := m.res.pixel(p)

		var pairs [4]int
		n := 0
		if m.hist != nil {
			pairs, n = pairsTouching(size, a, b)
			m.patchPairs(p, hist, pairs[:n], -1)
		}

		copy(hist[a*ch:(a+1)*ch], fa[p*ch:(p+1)*ch])
		copy(hist[b*ch:(b+1)*ch], fb[p*ch:(p+1)*ch])

		if m.hist != nil {
			m.patchPairs(p, hist, pairs[:n], +1)
		}
		m.pixelTop[p] = uint16((a + 2) % size)
	}
}

func (m *Model) patchPairs(p int, hist []byte, pairs []int, delta int) {
	ch := m.channels
	for c := 0; c < ch; c++ {
		counts := m.hist.of(p, c)
		for _, i := range pairs {
			d := int(hist[i*ch+c]) - int(hist[(i-1)*ch+c])
			b := m.hist.binOf(d)
			if delta > 0 {
				counts[b]++
			} else {
				counts[b]--
			}
		}
	}
}

// update records the frame in the temporal buffer and, on the replacement
// cadence, refreshes the reservoir from it.
func (m *Model) update(frame, mask []byte) error {
	if err := m.forRows(func(p0, p1 int) error {
		m.stagnation(mask, p0, p1)
		return nil
	}); err != nil {
		return err
	}
	m.tb.push(frame, m.updMask)

	m.sinceUpdate++
	if m.sinceUpdate < m.tb.length {
		return nil
	}
	m.sinceUpdate = 0

	older, newer := m.tb.latestPair()
	if err := m.forRows(func(p0, p1 int) error {
		m.replacePairs(older, newer, p0, p1)
		return nil
	}); err != nil {
		return err
	}
	m.cycles++

	if m.hist != nil && m.p.HistogramRebuildInterval > 0 && m.cycles%m.p.HistogramRebuildInterval == 0 {
		if err := m.forRows(func(p0, p1 int) error {
			m.hist.rebuild(&m.res, p0, p1)
			return nil
		}); err != nil {
			return err
		}
		m.log.Diagf("histogram rebuilt at cycle %d", m.cycles)
	}
	if m.hist != nil && m.p.BandwidthRefreshInterval > 0 && m.cycles%m.p.BandwidthRefreshInterval == 0 {
		if err := m.refreshBandwidths(); err != nil {
			return err
		}
		m.log.Diagf("bandwidths refreshed at cycle %d", m.cycles)
	}
	return nil
}
