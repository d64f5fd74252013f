package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/bgsub/internal/monitor"
	"github.com/banshee-data/bgsub/internal/store"
)

// pickRun returns runID, or the most recent run when runID is empty.
func pickRun(db *store.DB, runID string) (*store.Run, error) {
	if runID != "" {
		return db.GetRun(runID)
	}
	runs, err := db.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: database has no runs", store.ErrNotFound)
	}
	return runs[0], nil
}

// BuildReport loads the frame statistics and latest bandwidth snapshot of
// run into a monitor.Report. A run without snapshots has no bandwidths.
func BuildReport(db *store.DB, run *store.Run) (*monitor.Report, error) {
	stats, err := db.FrameStats(run.RunID)
	if err != nil {
		return nil, err
	}
	report := &monitor.Report{
		Title:   fmt.Sprintf("%s (%s)", run.Stream, run.RunID[:min(8, len(run.RunID))]),
		Samples: make([]monitor.Sample, len(stats)),
	}
	for i, fs := range stats {
		report.Samples[i] = monitor.Sample{
			Index:              fs.Index,
			Learning:           fs.Learning,
			ForegroundFraction: fs.ForegroundFraction,
			UpdateCycles:       fs.UpdateCycles,
			Duration:           time.Duration(fs.DurationNanos),
		}
	}

	snap, err := db.LatestSnapshot(run.RunID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return report, nil
	case err != nil:
		return nil, err
	}
	if report.Bandwidths, err = snap.Bandwidths(); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", snap.SnapshotID, err)
	}
	report.SnapshotFrame = snap.Frame
	return report, nil
}

// RunReport writes the plots and dashboard.html for a run into
// outDir/<source>/<timestamp> and returns the written paths.
func RunReport(db *store.DB, runID, outDir string, now time.Time) ([]string, error) {
	run, err := pickRun(db, runID)
	if err != nil {
		return nil, err
	}
	report, err := BuildReport(db, run)
	if err != nil {
		return nil, err
	}
	if len(report.Samples) == 0 {
		return nil, fmt.Errorf("run %s has no recorded frames", run.RunID)
	}

	dir := monitor.MakePlotOutputDir(outDir, run.Source, now)
	paths, err := report.SavePlots(dir)
	if err != nil {
		return paths, err
	}
	name := filepath.Join(dir, "dashboard.html")
	fh, err := os.Create(name)
	if err != nil {
		return paths, err
	}
	if err := report.RenderDashboard(fh); err != nil {
		fh.Close()
		return paths, err
	}
	if err := fh.Close(); err != nil {
		return paths, err
	}
	return append(paths, name), nil
}

func listRuns(w io.Writer, db *store.DB, limit int) error {
	runs, err := db.ListRuns(limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "running"
		if r.FinishedAt != nil {
			status = "finished"
		}
		fmt.Fprintf(w, "%s  %-12s %5d frames  %dx%dx%d  %s  %s\n",
			r.RunID, r.Stream, r.Frames, r.Cols, r.Rows, r.Channels,
			time.Unix(0, r.StartedAt).UTC().Format(time.RFC3339), status)
	}
	return nil
}
