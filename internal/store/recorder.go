package store

import (
	"context"
	"fmt"

	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

// FrameStat is one row of frame_stats.
type FrameStat struct {
	Index              int     `json:"index"`
	State              string  `json:"state"`
	Learning           bool    `json:"learning"`
	ForegroundPixels   int     `json:"foreground_pixels"`
	ForegroundFraction float64 `json:"foreground_fraction"`
	UpdateCycles       int     `json:"update_cycles"`
	DurationNanos      int64   `json:"duration_ns"`
}

// Recorder writes pipeline output for one run. It implements
// pipeline.Sink and pipeline.SnapshotSink.
type Recorder struct {
	db    *DB
	runID string
	// Every records one frame out of N; 0 or 1 records all of them.
	Every int

	frames int
}

// NewRecorder returns a sink bound to an existing run.
func (db *DB) NewRecorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// RunID is the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Recorded is the number of frame rows written.
func (r *Recorder) Recorded() int { return r.frames }

// WriteFrame implements pipeline.Sink.
func (r *Recorder) WriteFrame(ctx context.Context, res pipeline.FrameResult) error {
	if r.Every > 1 && res.Index%r.Every != 0 {
		return nil
	}
	err := retryOnBusy(func() error {
		_, err := r.db.ExecContext(ctx, `INSERT INTO frame_stats (
				run_id, frame_index, state, learning, foreground_pixels,
				foreground_fraction, update_cycles, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.runID, res.Index, res.State.String(), res.Learning, res.ForegroundPixels,
			res.ForegroundFraction, res.UpdateCycles, res.Duration.Nanoseconds(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record frame %d: %w", res.Index, err)
	}
	r.frames++
	return nil
}

// WriteSnapshot implements pipeline.SnapshotSink.
func (r *Recorder) WriteSnapshot(ctx context.Context, snap *kde.BandwidthSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.db.InsertSnapshot(r.runID, snap)
	return err
}

// FrameStats returns the recorded frames of runID in stream order.
func (db *DB) FrameStats(runID string) ([]FrameStat, error) {
	rows, err := db.Query(`SELECT frame_index, state, learning, foreground_pixels,
			foreground_fraction, update_cycles, duration_ns
		FROM frame_stats WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frame stats: %w", err)
	}
	defer rows.Close()

	var out []FrameStat
	for rows.Next() {
		var fs FrameStat
		if err := rows.Scan(&fs.Index, &fs.State, &fs.Learning, &fs.ForegroundPixels,
			&fs.ForegroundFraction, &fs.UpdateCycles, &fs.DurationNanos); err != nil {
			return nil, fmt.Errorf("scan frame stat: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
