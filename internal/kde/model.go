package kde

import (
	"fmt"
	"sync"

	"github.com/banshee-data/bgsub/internal/monitoring"
)

// State is the lifecycle stage of a Model. Transitions only move forward:
// Learning → Estimating → Steady.
type State int

const (
	// StateLearning ingests frames into the reservoir.
	StateLearning State = iota
	// StateEstimating is entered while bandwidths and the kernel table are
	// being built.
	StateEstimating
	// StateSteady classifies and updates every frame.
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateLearning:
		return "learning"
	case StateEstimating:
		return "estimating"
	case StateSteady:
		return "steady"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Model is a per-pixel kernel density background model for frames of fixed
// dimensions. It owns all of its buffers; nothing is shared between models.
type Model struct {
	rows, cols, channels int
	pixels               int
	frameSize            int

	p       Params
	mode    colourMode
	log     monitoring.Logger
	workers int
	window  brightnessWindow

	res  reservoir
	tb   temporalBuffer
	hist *diffHistogram // nil when bandwidths are not estimated
	kt   *KernelTable

	bwBins   []uint8  // pixels*channels kernel bins
	pixelTop []uint16 // next replacement slot per pixel
	acc      []uint32 // consecutive foreground frames per pixel
	updMask  []byte   // mask recorded in the temporal buffer

	state          State
	frames         int
	sinceUpdate    int
	cycles         int
	lastForeground int

	scratch sync.Pool
}

// New builds a model for rows×cols frames with 1 (gray) or 3 (RGB)
// interleaved channels.
func New(rows, cols, channels int, p Params) (*Model, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidConfig, rows, cols)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: channels must be 1 or 3, got %d", ErrInvalidConfig, channels)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	need, ok := modelBytes(rows, cols, channels, p)
	if !ok {
		return nil, fmt.Errorf("%w: model size overflows for %dx%dx%d", ErrAllocation, rows, cols, channels)
	}
	if p.MaxModelBytes > 0 && need > p.MaxModelBytes {
		return nil, fmt.Errorf("%w: model needs %d bytes, budget is %d", ErrAllocation, need, p.MaxModelBytes)
	}

	m := &Model{
		rows:      rows,
		cols:      cols,
		channels:  channels,
		pixels:    rows * cols,
		frameSize: rows * cols * channels,
		p:         p,
		log:       monitoring.OrNop(p.Logger),
		workers:   resolveWorkers(p.Workers),
		window:    newBrightnessWindow(p.ColorAlpha, p.ColorBeta, p.ColorBetaU),
	}
	switch {
	case channels == 1:
		m.mode = modeGray
	case p.UseColorRatios:
		m.mode = modeRatio
	default:
		m.mode = modeRGB
	}

	if err := allocate(func() {
		m.res = newReservoir(m.pixels, channels, p.SampleSize)
		m.tb = newTemporalBuffer(p.UpdateRate(), m.pixels, channels)
		if p.EstimateBandwidth {
			m.hist = newDiffHistogram(m.pixels, channels, p.SampleSize, p.HistogramBins, p.HistogramBinWidth)
		}
		m.bwBins = make([]uint8, m.pixels*channels)
		m.pixelTop = make([]uint16, m.pixels)
		m.acc = make([]uint32, m.pixels)
		m.updMask = make([]byte, m.pixels)
	}); err != nil {
		return nil, err
	}
	m.scratch.New = func() any {
		b := make([]byte, m.frameSize)
		return &b
	}

	m.log.Diagf("model %dx%dx%d mode=%s sample_size=%d update_rate=%d estimate=%t (%d bytes)",
		rows, cols, channels, m.mode, p.SampleSize, p.UpdateRate(), p.EstimateBandwidth, need)
	return m, nil
}

// allocate converts an allocation panic (such as an out-of-range make) into
// ErrAllocation.
func allocate(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	fn()
	return nil
}

// modelBytes estimates the memory the model allocates, reporting false on
// integer overflow.
func modelBytes(rows, cols, channels int, p Params) (int64, bool) {
	var total int64
	ok := true
	add := func(factors ...int64) {
		v := int64(1)
		for _, f := range factors {
			if f != 0 && v > (1<<62)/f {
				ok = false
				return
			}
			v *= f
		}
		if total > (1<<62)-v {
			ok = false
			return
		}
		total += v
	}
	pixels := int64(rows) * int64(cols)
	ch := int64(channels)
	// reservoir
	add(pixels, ch, int64(p.SampleSize))
	// temporal buffer frames and masks
	add(int64(p.UpdateRate()), pixels, ch+1)
	// bandwidth bins, replacement cursors, stagnation counters, update mask
	add(pixels, ch)
	add(pixels, 2+4+1)
	// kernel weights and sums
	add(int64(p.BandwidthBins), 2*int64(p.KernelHalfWidth)+2, 8)
	if p.EstimateBandwidth {
		add(pixels, ch, int64(p.HistogramBins), 2)
	}
	return total, ok
}

// State returns the current lifecycle state.
func (m *Model) State() State { return m.state }

// FrameCount is the number of frames ingested by AddFrame plus the number
// of frames passed through Update.
func (m *Model) FrameCount() int { return m.frames }

// Dims returns the frame dimensions fixed at construction.
func (m *Model) Dims() (rows, cols, channels int) { return m.rows, m.cols, m.channels }

// Params returns a copy of the model's parameters.
func (m *Model) Params() Params { return m.p }

// KernelTable returns the kernel table, or nil before estimation.
func (m *Model) KernelTable() *KernelTable { return m.kt }

// BandwidthBin returns the kernel bin used for a pixel channel.
func (m *Model) BandwidthBin(pixel, channel int) int {
	return int(m.bwBins[pixel*m.channels+channel])
}

// HistogramMass returns the number of consecutive pairs counted for a pixel
// channel, or 0 when bandwidths are not estimated.
func (m *Model) HistogramMass(pixel, channel int) int {
	if m.hist == nil {
		return 0
	}
	return m.hist.mass(pixel, channel)
}

// UpdateCycles is the number of reservoir replacement cycles run so far.
func (m *Model) UpdateCycles() int { return m.cycles }

// SetThresholds replaces the probability threshold and colour alpha.
func (m *Model) SetThresholds(threshold, alpha float64) error {
	if err := validateThresholds(threshold, alpha); err != nil {
		return err
	}
	m.p.Threshold = threshold
	m.p.ColorAlpha = alpha
	m.window = newBrightnessWindow(alpha, m.p.ColorBeta, m.p.ColorBetaU)
	m.log.Diagf("thresholds set: threshold=%g alpha=%g", threshold, alpha)
	return nil
}

// convert returns frame in the model's sample space. The release function
// must be called once the returned slice is no longer used.
func (m *Model) convert(frame []byte) ([]byte, func()) {
	if m.mode != modeRatio {
		return frame, func() {}
	}
	bp := m.scratch.Get().(*[]byte)
	ColorRatios(*bp, frame)
	return *bp, func() { m.scratch.Put(bp) }
}

func (m *Model) checkFrame(frame []byte) error {
	if len(frame) != m.frameSize {
		return fmt.Errorf("%w: frame has %d bytes, want %d", ErrFrameSize, len(frame), m.frameSize)
	}
	return nil
}

func (m *Model) checkMask(mask []byte) error {
	if len(mask) != m.pixels {
		return fmt.Errorf("%w: mask has %d bytes, want %d", ErrFrameSize, len(mask), m.pixels)
	}
	return nil
}

func (m *Model) requireState(want State, op string) error {
	if m.state != want {
		m.log.Opsf("%s refused in state %s", op, m.state)
		return fmt.Errorf("%w: %s requires state %s, model is %s", ErrOutOfOrder, op, want, m.state)
	}
	return nil
}

// AddFrame ingests a learning frame. When FramesToLearn frames have been
// ingested the model estimates its bandwidths and becomes Steady.
func (m *Model) AddFrame(frame []byte) error {
	if err := m.requireState(StateLearning, "AddFrame"); err != nil {
		return err
	}
	if err := m.checkFrame(frame); err != nil {
		return err
	}
	conv, release := m.convert(frame)
	m.res.ingest(conv)
	m.tb.push(conv, nil)
	release()
	m.frames++
	m.log.Tracef("learning frame %d/%d", m.frames, m.p.framesToLearn())

	if m.frames >= m.p.framesToLearn() {
		return m.Estimate()
	}
	return nil
}

// Estimate builds the kernel table and per-pixel bandwidth bins. AddFrame
// calls it automatically; calling it directly is only valid once the
// reservoir is full and before the model is Steady.
func (m *Model) Estimate() error {
	if err := m.requireState(StateLearning, "Estimate"); err != nil {
		return err
	}
	if !m.res.full() {
		m.log.Opsf("Estimate refused: reservoir holds %d of %d samples", m.res.filled, m.p.SampleSize)
		return fmt.Errorf("%w: reservoir holds %d of %d samples", ErrOutOfOrder, m.res.filled, m.p.SampleSize)
	}
	m.state = StateEstimating

	kt, err := NewKernelTable(m.p.KernelHalfWidth, m.p.MinBandwidth, m.p.MaxBandwidth, m.p.BandwidthBins)
	if err != nil {
		return err
	}
	m.kt = kt

	if m.hist != nil {
		if err := m.forRows(func(p0, p1 int) error {
			m.hist.rebuild(&m.res, p0, p1)
			m.estimateBins(p0, p1)
			return nil
		}); err != nil {
			return err
		}
	} else {
		bin := uint8(kt.BinFor(m.p.DefaultBandwidth))
		for i := range m.bwBins {
			m.bwBins[i] = bin
		}
	}

	// Replacement starts at the oldest slot.
	for i := range m.pixelTop {
		m.pixelTop[i] = uint16(m.res.top)
	}

	m.state = StateSteady
	st := m.Stats()
	m.log.Diagf("estimation complete after %d frames: bandwidth mean=%.3f sd=%.3f median=%.3f",
		m.frames, st.BandwidthMean, st.BandwidthStdDev, st.BandwidthMedian)
	return nil
}

// Classify labels every pixel of frame into mask (Background or
// Foreground). When density is non-nil it receives each pixel's estimated
// density; with early termination this is a lower bound for background
// pixels. Classify does not modify the model.
func (m *Model) Classify(frame, mask []byte, density []float64) error {
	if err := m.requireState(StateSteady, "Classify"); err != nil {
		return err
	}
	if err := m.checkFrame(frame); err != nil {
		return err
	}
	if err := m.checkMask(mask); err != nil {
		return err
	}
	if density != nil && len(density) != m.pixels {
		return fmt.Errorf("%w: density has %d entries, want %d", ErrFrameSize, len(density), m.pixels)
	}
	conv, release := m.convert(frame)
	defer release()
	return m.classify(conv, mask, density)
}

func (m *Model) classify(conv, mask []byte, density []float64) error {
	return m.forRows(func(p0, p1 int) error {
		m.classifyRange(conv, mask, density, p0, p1)
		return nil
	})
}

// Update applies the reservoir update policy for frame given its
// classification mask. It is a no-op apart from frame counting when
// updates are disabled.
func (m *Model) Update(frame, mask []byte) error {
	if err := m.requireState(StateSteady, "Update"); err != nil {
		return err
	}
	if err := m.checkFrame(frame); err != nil {
		return err
	}
	if err := m.checkMask(mask); err != nil {
		return err
	}
	conv, release := m.convert(frame)
	defer release()
	return m.advance(conv, mask)
}

func (m *Model) advance(conv, mask []byte) error {
	m.frames++
	if !m.p.UpdateEnabled {
		return nil
	}
	return m.update(conv, mask)
}

// ClassifyAndUpdate classifies frame, applies the update policy and
// returns a new mask with Background (0) and Foreground (255) values.
func (m *Model) ClassifyAndUpdate(frame []byte) ([]byte, error) {
	mask := make([]byte, m.pixels)
	if err := m.ClassifyAndUpdateInto(frame, mask, nil); err != nil {
		return nil, err
	}
	return mask, nil
}

// ClassifyAndUpdateInto is ClassifyAndUpdate writing into caller-owned
// buffers. density may be nil.
func (m *Model) ClassifyAndUpdateInto(frame, mask []byte, density []float64) error {
	if err := m.requireState(StateSteady, "ClassifyAndUpdate"); err != nil {
		return err
	}
	if err := m.checkFrame(frame); err != nil {
		return err
	}
	if err := m.checkMask(mask); err != nil {
		return err
	}
	if density != nil && len(density) != m.pixels {
		return fmt.Errorf("%w: density has %d entries, want %d", ErrFrameSize, len(density), m.pixels)
	}
	conv, release := m.convert(frame)
	defer release()

	if err := m.classify(conv, mask, density); err != nil {
		return err
	}
	fg := 0
	for _, v := range mask {
		if v != Background {
			fg++
		}
	}
	m.lastForeground = fg

	if err := m.advance(conv, mask); err != nil {
		return fmt.Errorf("update frame %d: %w", m.frames, err)
	}
	m.log.Tracef("frame %d foreground=%d/%d cycles=%d", m.frames, fg, m.pixels, m.cycles)
	return nil
}
