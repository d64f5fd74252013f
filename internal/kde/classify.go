package kde

// Mask values written by the classifier.
const (
	Background byte = 0
	Foreground byte = 255
)

type colourMode int

const (
	modeGray colourMode = iota
	modeRGB
	modeRatio
)

func (c colourMode) String() string {
	switch c {
	case modeGray:
		return "gray"
	case modeRGB:
		return "rgb"
	case modeRatio:
		return "rgb-ratio"
	default:
		return "unknown"
	}
}

// classifyRange labels pixels [p0, p1) of an already converted frame.
// The running kernel sum stops as soon as it exceeds Threshold*SampleSize
// unless ExhaustiveDensity is set; the sum only grows, so the label is the
// same either way.
func (m *Model) classifyRange(frame, mask []byte, density []float64, p0, p1 int) {
	size := m.p.SampleSize
	limit := m.p.Threshold * float64(size)
	stopEarly := !m.p.ExhaustiveDensity

	for p := p0; p < p1; p++ {
		var sum float64
		switch m.mode {
		case modeGray:
			sum = m.densityGray(p, frame[p], limit, stopEarly)
		case modeRGB:
			sum = m.densityRGB(p, frame[3*p:3*p+3], limit, stopEarly)
		case modeRatio:
			sum = m.densityRatio(p, frame[3*p:3*p+3], limit, stopEarly)
		}
		if sum > limit {
			mask[p] = Background
		} else {
			mask[p] = Foreground
		}
		if density != nil {
			density[p] = sum / float64(size)
		}
	}
}

func (m *Model) densityGray(p int, x byte, limit float64, stopEarly bool) float64 {
	h := m.kt.halfWidth
	row := m.kt.row(int(m.bwBins[p]))
	hist := m.res.pixel(p)
	sum := 0.0
	for _, s := range hist {
		d := int(x) - int(s)
		if d < -h || d > h {
			continue
		}
		sum += row[h+d]
		if stopEarly && sum > limit {
			break
		}
	}
	return sum
}

func (m *Model) densityRGB(p int, x []byte, limit float64, stopEarly bool) float64 {
	h := m.kt.halfWidth
	r0 := m.kt.row(int(m.bwBins[3*p]))
	r1 := m.kt.row(int(m.bwBins[3*p+1]))
	r2 := m.kt.row(int(m.bwBins[3*p+2]))
	hist := m.res.pixel(p)
	sum := 0.0
	for j := 0; j < len(hist); j += 3 {
		d0 := int(x[0]) - int(hist[j])
		if d0 < -h || d0 > h {
			continue
		}
		d1 := int(x[1]) - int(hist[j+1])
		if d1 < -h || d1 > h {
			continue
		}
		d2 := int(x[2]) - int(hist[j+2])
		if d2 < -h || d2 > h {
			continue
		}
		sum += r0[h+d0] * r1[h+d1] * r2[h+d2]
		if stopEarly && sum > limit {
			break
		}
	}
	return sum
}

// densityRatio evaluates the chromaticity kernels only for samples whose
// brightness admits the current pixel's brightness.
func (m *Model) densityRatio(p int, x []byte, limit float64, stopEarly bool) float64 {
	h := m.kt.halfWidth
	r1 := m.kt.row(int(m.bwBins[3*p+1]))
	r2 := m.kt.row(int(m.bwBins[3*p+2]))
	hist := m.res.pixel(p)
	sum := 0.0
	for j := 0; j < len(hist); j += 3 {
		if !m.window.admits(hist[j], x[0]) {
			continue
		}
		d1 := int(x[1]) - int(hist[j+1])
		if d1 < -h || d1 > h {
			continue
		}
		d2 := int(x[2]) - int(hist[j+2])
		if d2 < -h || d2 > h {
			continue
		}
		sum += r1[h+d1] * r2[h+d2]
		if stopEarly && sum > limit {
			break
		}
	}
	return sum
}
