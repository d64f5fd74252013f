package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/monitoring"
	"github.com/banshee-data/bgsub/internal/morph"
	"github.com/banshee-data/bgsub/internal/timeutil"
)

// MorphMode selects the post-filter applied to each classification mask.
type MorphMode string

const (
	MorphNone         MorphMode = "none"
	MorphExpandShrink MorphMode = "expand-shrink"
	MorphHysteresis   MorphMode = "hysteresis"
)

// ParseMorphMode accepts the names used in configuration files and flags.
// The empty string means MorphNone.
func ParseMorphMode(s string) (MorphMode, error) {
	switch MorphMode(s) {
	case "", MorphNone:
		return MorphNone, nil
	case MorphExpandShrink, MorphHysteresis:
		return MorphMode(s), nil
	}
	return "", fmt.Errorf("unknown morphology mode %q", s)
}

// DefaultHysteresisThreshold is the density below which a neighbour of a
// foreground pixel counts as weak foreground.
const DefaultHysteresisThreshold = 1e-5

// Options configures a Pipeline beyond the model parameters.
type Options struct {
	Morph MorphMode
	// HysteresisThreshold is the weak-foreground density used when growing
	// masks in hysteresis mode. Shrinking keeps pixels below the model's
	// own threshold. 0 means DefaultHysteresisThreshold.
	HysteresisThreshold float64
	// SnapshotEvery emits a bandwidth snapshot to sinks every N steady
	// frames. 0 disables periodic snapshots.
	SnapshotEvery int

	Clock  timeutil.Clock    // nil means timeutil.RealClock
	Logger monitoring.Logger // nil discards
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Index    int       // 0-based position in the stream
	State    kde.State // model state after the frame
	Learning bool      // the frame was consumed by the learning phase
	// Mask is the post-filtered mask, all Background while learning. It is
	// owned by the pipeline and overwritten by the next frame.
	Mask               []byte
	ForegroundPixels   int
	ForegroundFraction float64
	UpdateCycles       int
	Duration           time.Duration
}

// Sink receives every processed frame and optional bandwidth snapshots.
type Sink interface {
	WriteFrame(ctx context.Context, res FrameResult) error
}

// SnapshotSink is implemented by sinks that persist bandwidth snapshots.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snap *kde.BandwidthSnapshot) error
}

// Source yields frames in stream order and returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Pipeline processes frames of fixed dimensions for one stream.
type Pipeline struct {
	rows, cols, channels int

	model  *kde.Model
	morph  *morph.Morpher
	opts   Options
	clock  timeutil.Clock
	log    monitoring.Logger
	weakTh float64

	mask    []byte
	density []float64
	active  []int
	frames  int
}

// New builds a pipeline and its model. Hysteresis mode needs exact
// densities, so it turns on p.ExhaustiveDensity.
func New(rows, cols, channels int, p kde.Params, opts Options) (*Pipeline, error) {
	mode, err := ParseMorphMode(string(opts.Morph))
	if err != nil {
		return nil, err
	}
	opts.Morph = mode
	if opts.SnapshotEvery < 0 {
		return nil, fmt.Errorf("snapshot interval must be non-negative, got %d", opts.SnapshotEvery)
	}
	log := monitoring.OrNop(opts.Logger)
	if p.Logger == nil {
		p.Logger = opts.Logger
	}
	if mode == MorphHysteresis && !p.ExhaustiveDensity {
		log.Diagf("hysteresis morphology: enabling exhaustive density")
		p.ExhaustiveDensity = true
	}

	model, err := kde.New(rows, cols, channels, p)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}

	pl := &Pipeline{
		rows:     rows,
		cols:     cols,
		channels: channels,
		model:    model,
		opts:     opts,
		clock:    opts.Clock,
		log:      log,
		weakTh:   opts.HysteresisThreshold,
		mask:     make([]byte, rows*cols),
	}
	if pl.clock == nil {
		pl.clock = timeutil.RealClock{}
	}
	if pl.weakTh <= 0 {
		pl.weakTh = DefaultHysteresisThreshold
	}
	if mode != MorphNone {
		if pl.morph, err = morph.New(rows, cols); err != nil {
			return nil, err
		}
	}
	if mode == MorphHysteresis {
		pl.density = make([]float64, rows*cols)
	}
	return pl, nil
}

// Model exposes the underlying model for introspection.
func (pl *Pipeline) Model() *kde.Model { return pl.model }

// Stats returns the model summary.
func (pl *Pipeline) Stats() kde.Stats { return pl.model.Stats() }

// Frames is the number of frames processed so far.
func (pl *Pipeline) Frames() int { return pl.frames }

// Process runs one frame through the model and post-filter.
func (pl *Pipeline) Process(ctx context.Context, frame []byte) (FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return FrameResult{}, err
	}
	start := pl.clock.Now()
	res := FrameResult{Index: pl.frames}

	if pl.model.State() == kde.StateLearning {
		if err := pl.model.AddFrame(frame); err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: %w", pl.frames, err)
		}
		clear(pl.mask)
		res.Learning = true
	} else {
		if err := pl.model.ClassifyAndUpdateInto(frame, pl.mask, pl.density); err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: %w", pl.frames, err)
		}
		if err := pl.postFilter(); err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: morphology: %w", pl.frames, err)
		}
	}

	for _, v := range pl.mask {
		if v != kde.Background {
			res.ForegroundPixels++
		}
	}
	res.Mask = pl.mask
	res.State = pl.model.State()
	res.ForegroundFraction = float64(res.ForegroundPixels) / float64(len(pl.mask))
	res.UpdateCycles = pl.model.UpdateCycles()
	res.Duration = pl.clock.Since(start)
	pl.frames++

	pl.log.Tracef("frame %d state=%s fg=%d (%.4f) in %s", res.Index, res.State, res.ForegroundPixels, res.ForegroundFraction, res.Duration)
	return res, nil
}

func (pl *Pipeline) postFilter() error {
	if pl.morph == nil {
		return nil
	}
	var err error
	if pl.active, err = pl.morph.ActivePixelIndex(pl.mask, pl.active); err != nil {
		return err
	}
	switch pl.opts.Morph {
	case MorphExpandShrink:
		if pl.active, err = pl.morph.Expand(pl.mask, pl.active); err != nil {
			return err
		}
		pl.active, err = pl.morph.Shrink(pl.mask, pl.active)
	case MorphHysteresis:
		if pl.active, err = pl.morph.ExpandHysteresis(pl.mask, pl.active, pl.density, pl.weakTh); err != nil {
			return err
		}
		pl.active, err = pl.morph.ShrinkHysteresis(pl.mask, pl.active, pl.density, pl.model.Params().Threshold)
	}
	return err
}

// Summary describes a completed Run.
type Summary struct {
	Frames         int
	LearningFrames int
	MeanForeground float64 // mean foreground fraction over steady frames
	TotalDuration  time.Duration
	Stats          kde.Stats
}

// Run pulls frames from src until io.EOF or ctx is cancelled, passing each
// result to every sink in order. A final bandwidth snapshot is written to
// snapshot-capable sinks once the model has estimated.
func (pl *Pipeline) Run(ctx context.Context, src Source, sinks ...Sink) (Summary, error) {
	var sum Summary
	var fgTotal float64
	steady := 0

	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read frame %d: %w", pl.frames, err)
		}

		res, err := pl.Process(ctx, frame)
		if err != nil {
			return sum, err
		}
		sum.Frames++
		sum.TotalDuration += res.Duration
		if res.Learning {
			sum.LearningFrames++
		} else {
			steady++
			fgTotal += res.ForegroundFraction
		}

		for _, s := range sinks {
			if err := s.WriteFrame(ctx, res); err != nil {
				return sum, fmt.Errorf("sink frame %d: %w", res.Index, err)
			}
		}
		if pl.opts.SnapshotEvery > 0 && !res.Learning && steady%pl.opts.SnapshotEvery == 0 {
			if err := pl.snapshot(ctx, sinks); err != nil {
				return sum, err
			}
		}
	}

	if steady > 0 {
		sum.MeanForeground = fgTotal / float64(steady)
	}
	if pl.model.State() == kde.StateSteady {
		if err := pl.snapshot(ctx, sinks); err != nil {
			return sum, err
		}
	} else {
		pl.log.Opsf("stream ended after %d frames, still %s", sum.Frames, pl.model.State())
	}
	sum.Stats = pl.model.Stats()
	pl.log.Diagf("run complete: %d frames (%d learning) mean foreground %.4f in %s",
		sum.Frames, sum.LearningFrames, sum.MeanForeground, sum.TotalDuration)
	return sum, nil
}

func (pl *Pipeline) snapshot(ctx context.Context, sinks []Sink) error {
	var snap *kde.BandwidthSnapshot
	for _, s := range sinks {
		ss, ok := s.(SnapshotSink)
		if !ok {
			continue
		}
		if snap == nil {
			var err error
			if snap, err = pl.model.Snapshot(); err != nil {
				return fmt.Errorf("bandwidth snapshot: %w", err)
			}
		}
		if err := ss.WriteSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("write bandwidth snapshot: %w", err)
		}
	}
	return nil
}
