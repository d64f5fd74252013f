package kde

// reservoir is the per-pixel sample history. Samples are stored pixel-major,
// samples[(pixel*size+slot)*channels+c], so one pixel's history is
// contiguous for the classifier.
type reservoir struct {
	pixels   int
	channels int
	size     int

	samples []byte
	// top is the slot written by the next ingested frame while learning.
	top    int
	filled int
}

func newReservoir(pixels, channels, size int) reservoir {
	return reservoir{
		pixels:   pixels,
		channels: channels,
		size:     size,
		samples:  make([]byte, pixels*channels*size),
	}
}

// ingest writes one whole frame into slot top and advances the cursor.
func (r *reservoir) ingest(frame []byte) {
	ch := r.channels
	stride := r.size * ch
	off := r.top * ch
	for p := 0; p < r.pixels; p++ {
		copy(r.samples[p*stride+off:p*stride+off+ch], frame[p*ch:(p+1)*ch])
	}
	r.top = (r.top + 1) % r.size
	if r.filled < r.size {
		r.filled++
	}
}

func (r *reservoir) full() bool { return r.filled >= r.size }

// pixel returns the history of one pixel, size*channels bytes.
func (r *reservoir) pixel(p int) []byte {
	stride := r.size * r.channels
	return r.samples[p*stride : (p+1)*stride]
}
