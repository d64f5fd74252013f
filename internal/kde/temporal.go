package kde

// temporalBuffer keeps the most recent frames together with the update mask
// recorded for each, so reservoir replacements are only drawn from pixels
// that were background when captured.
type temporalBuffer struct {
	length    int
	frameSize int
	pixels    int

	frames []byte // length * frameSize
	masks  []byte // length * pixels, non-zero = foreground
	top    int    // slot written by the next push
	pushed int
}

func newTemporalBuffer(length, pixels, channels int) temporalBuffer {
	return temporalBuffer{
		length:    length,
		frameSize: pixels * channels,
		pixels:    pixels,
		frames:    make([]byte, length*pixels*channels),
		masks:     make([]byte, length*pixels),
	}
}

// push stores frame and mask in the current slot and rotates the cursor.
// A nil mask records every pixel as background.
func (tb *temporalBuffer) push(frame, mask []byte) {
	copy(tb.frame(tb.top), frame)
	m := tb.mask(tb.top)
	if mask == nil {
		clear(m)
	} else {
		copy(m, mask)
	}
	tb.top = (tb.top + 1) % tb.length
	tb.pushed++
}

func (tb *temporalBuffer) frame(slot int) []byte {
	return tb.frames[slot*tb.frameSize : (slot+1)*tb.frameSize]
}

func (tb *temporalBuffer) mask(slot int) []byte {
	return tb.masks[slot*tb.pixels : (slot+1)*tb.pixels]
}

// latestPair returns the slots of the two most recently pushed frames,
// older first.
func (tb *temporalBuffer) latestPair() (older, newer int) {
	newer = (tb.top - 1 + tb.length) % tb.length
	older = (tb.top - 2 + 2*tb.length) % tb.length
	return older, newer
}
