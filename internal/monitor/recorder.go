// Package monitor collects per-frame pipeline statistics and renders them
// as PNG plots (gonum/plot) and an HTML dashboard (go-echarts).
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

// Sample is the per-frame data kept for plotting.
type Sample struct {
	Index              int
	Learning           bool
	ForegroundFraction float64
	UpdateCycles       int
	Duration           time.Duration
}

// DefaultSampleLimit is the number of most recent samples a Recorder from
// NewRecorder keeps.
const DefaultSampleLimit = 50000

// Recorder accumulates samples and the latest bandwidth snapshot while a
// pipeline runs. It implements pipeline.Sink and pipeline.SnapshotSink and
// is safe to read from HTTP handlers concurrently.
type Recorder struct {
	mu sync.Mutex
	// Every keeps one frame out of N; 0 or 1 keeps all of them.
	Every int
	// Limit caps the retained samples to the most recent Limit; 0 keeps
	// everything.
	Limit int

	samples       []Sample
	bandwidths    []float64
	snapshotFrame int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{Limit: DefaultSampleLimit} }

// WriteFrame implements pipeline.Sink.
func (r *Recorder) WriteFrame(_ context.Context, res pipeline.FrameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Every > 1 && res.Index%r.Every != 0 {
		return nil
	}
	r.samples = append(r.samples, Sample{
		Index:              res.Index,
		Learning:           res.Learning,
		ForegroundFraction: res.ForegroundFraction,
		UpdateCycles:       res.UpdateCycles,
		Duration:           res.Duration,
	})
	// Trim in bulk once the backlog doubles the limit.
	if r.Limit > 0 && len(r.samples) >= 2*r.Limit {
		n := copy(r.samples, r.samples[len(r.samples)-r.Limit:])
		clear(r.samples[n:])
		r.samples = r.samples[:n]
	}
	return nil
}

// retained returns the samples within Limit. Callers hold mu.
func (r *Recorder) retained() []Sample {
	if r.Limit > 0 && len(r.samples) > r.Limit {
		return r.samples[len(r.samples)-r.Limit:]
	}
	return r.samples
}

// WriteSnapshot implements pipeline.SnapshotSink. Only the most recent
// snapshot is kept.
func (r *Recorder) WriteSnapshot(_ context.Context, snap *kde.BandwidthSnapshot) error {
	bw, err := snap.Bandwidths()
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bandwidths = bw
	r.snapshotFrame = snap.Frame
	return nil
}

// SampleCount returns the number of frames recorded.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retained())
}

// Report copies the recorded data into a Report titled title.
func (r *Recorder) Report(title string) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Report{
		Title:         title,
		Samples:       append([]Sample(nil), r.retained()...),
		Bandwidths:    append([]float64(nil), r.bandwidths...),
		SnapshotFrame: r.snapshotFrame,
	}
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns baseDir/<source basename>/<timestamp>, with the
// basename passed through fsutil.SafeName, or baseDir/live_<timestamp> when
// source is empty.
func MakePlotOutputDir(baseDir, source string, now time.Time) string {
	ts := FormatTimestamp(now)
	if source != "" {
		base := filepath.Base(filepath.Clean(source))
		ext := filepath.Ext(base)
		return filepath.Join(baseDir, fsutil.SafeName(base[:len(base)-len(ext)]), ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
