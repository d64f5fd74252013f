package kde

// diffHistogram counts, per pixel and channel, the absolute differences
// between consecutive reservoir slots (slot i-1, slot i) for i in
// [1, size). Every pixel channel therefore holds size-1 counts.
type diffHistogram struct {
	bins     int
	binWidth int
	channels int
	size     int

	counts []uint16 // ((pixel*channels)+c)*bins + bin
}

func newDiffHistogram(pixels, channels, size, bins, binWidth int) *diffHistogram {
	return &diffHistogram{
		bins:     bins,
		binWidth: binWidth,
		channels: channels,
		size:     size,
		counts:   make([]uint16, pixels*channels*bins),
	}
}

// binOf maps an absolute difference to its bin; the last bin absorbs
// everything beyond the covered range.
func (h *diffHistogram) binOf(diff int) int {
	if diff < 0 {
		diff = -diff
	}
	b := diff / h.binWidth
	if b >= h.bins {
		return h.bins - 1
	}
	return b
}

func (h *diffHistogram) of(p, c int) []uint16 {
	off := (p*h.channels + c) * h.bins
	return h.counts[off : off+h.bins]
}

// rebuild recounts pixels [p0, p1) from the reservoir.
func (h *diffHistogram) rebuild(res *reservoir, p0, p1 int) {
	ch := h.channels
	for p := p0; p < p1; p++ {
		hist := res.pixel(p)
		for c := 0; c < ch; c++ {
			counts := h.of(p, c)
			clear(counts)
			for i := 1; i < h.size; i++ {
				d := int(hist[i*ch+c]) - int(hist[(i-1)*ch+c])
				counts[h.binOf(d)]++
			}
		}
	}
}

// mass returns the number of pairs counted for one pixel channel.
func (h *diffHistogram) mass(p, c int) int {
	n := 0
	for _, v := range h.of(p, c) {
		n += int(v)
	}
	return n
}

// median returns the interpolated median absolute difference for one pixel
// channel. Bin b spans the continuous range
// [b*width-0.5, (b+1)*width-0.5), so a histogram holding a single integer
// difference d reports exactly d.
func (h *diffHistogram) median(p, c int) float64 {
	counts := h.of(p, c)
	total := 0
	for _, v := range counts {
		total += int(v)
	}
	if total == 0 {
		return 0
	}
	half := float64(total) / 2
	cum := 0
	for b, v := range counts {
		if v == 0 {
			continue
		}
		next := cum + int(v)
		if float64(next) >= half {
			frac := (half - float64(cum)) / float64(v)
			m := float64(b*h.binWidth) - 0.5 + frac*float64(h.binWidth)
			if m < 0 {
				return 0
			}
			return m
		}
		cum = next
	}
	return float64((h.bins-1)*h.binWidth) + float64(h.binWidth) - 0.5
}

// pairsTouching lists the linear pair indices (i meaning slots i-1,i) that
// involve slot a or slot b. It returns at most four distinct indices.
func pairsTouching(size, a, b int) (pairs [4]int, n int) {
	add := func(i int) {
		if i < 1 || i >= size {
			return
		}
		for k := 0; k < n; k++ {
			if pairs[k] == i {
				return
			}
		}
		pairs[n] = i
		n++
	}
	add(a)
	add(a + 1)
	add(b)
	add(b + 1)
	return pairs, n
}
