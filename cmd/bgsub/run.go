package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/bgsub/internal/config"
	"github.com/banshee-data/bgsub/internal/events"
	"github.com/banshee-data/bgsub/internal/frames"
	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/monitor"
	"github.com/banshee-data/bgsub/internal/monitoring"
	"github.com/banshee-data/bgsub/internal/pipeline"
	"github.com/banshee-data/bgsub/internal/store"
	"github.com/banshee-data/bgsub/internal/timeutil"
	"github.com/banshee-data/bgsub/internal/version"
)

// runConfig is everything one pass over a frame directory needs, taken
// from the command line.
type runConfig struct {
	ConfigPath string
	InputDir   string
	Watch      bool
	Width      int // only used by Watch on an empty directory
	Height     int
	Channels   int
	MaskDir    string
	MaskFormat string
	MaskEvery  int
	StatsEvery int
	Stream     string
	PlotsDir   string
}

// runDeps are the long-lived collaborators owned by main. Nil DB, Monitor
// or Events disable the matching sink.
type runDeps struct {
	FS      fsutil.FileSystem
	DB      *store.DB
	Monitor *monitor.Recorder
	Events  events.Publisher
	Clock   timeutil.Clock
	Log     monitoring.Logger
}

type runResult struct {
	RunID   string
	Summary pipeline.Summary
	Masks   int
	Plots   []string
}

// loadConfig reads path, or validates the built-in defaults when path is
// empty.
func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		cfg := config.EmptyTuningConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadTuningConfig(path)
}

// openSource replays the images already in the input directory. With Watch
// it then follows images renamed into the directory; an empty directory
// needs Width and Height to fix the frame size. The watch starts before the
// directory is listed so no frame is missed in between.
func openSource(fsys fsutil.FileSystem, rc runConfig) (src pipeline.Source, rows, cols int, closeFn func(), err error) {
	closeFn = func() {}
	if !rc.Watch {
		dir, err := frames.NewDirSource(fsys, rc.InputDir, rc.Channels)
		if err != nil {
			return nil, 0, 0, closeFn, err
		}
		rows, cols, _ = dir.Dims()
		return dir, rows, cols, closeFn, nil
	}

	w, err := frames.NewWatchSource(rc.InputDir, rc.Height, rc.Width, rc.Channels)
	if err != nil {
		return nil, 0, 0, closeFn, err
	}
	dir, dirErr := frames.NewDirSource(fsys, rc.InputDir, rc.Channels)
	switch {
	case dirErr == nil:
		rows, cols, _ = dir.Dims()
		src = w.After(dir)
	case rc.Width > 0 && rc.Height > 0:
		rows, cols = rc.Height, rc.Width
		src = w
	default:
		w.Close()
		return nil, 0, 0, closeFn, fmt.Errorf("%w (set -width and -height to watch an empty directory)", dirErr)
	}
	return src, rows, cols, func() { w.Close() }, nil
}

// progressSink logs a one-line status to the ops stream at most once per
// interval.
type progressSink struct {
	log      monitoring.Logger
	clock    timeutil.Clock
	interval time.Duration
	last     time.Time
}

func (p *progressSink) WriteFrame(_ context.Context, res pipeline.FrameResult) error {
	now := p.clock.Now()
	if p.last.IsZero() {
		p.last = now
		return nil
	}
	if now.Sub(p.last) < p.interval {
		return nil
	}
	p.last = now
	p.log.Opsf("frame %d: %s, foreground %.2f%%, %d update cycles",
		res.Index, res.State, 100*res.ForegroundFraction, res.UpdateCycles)
	return nil
}

// run processes one stream to completion or until ctx is cancelled. A
// cancelled run is not an error; its record is still finished.
func run(ctx context.Context, rc runConfig, d runDeps) (*runResult, error) {
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	if d.FS == nil {
		d.FS = fsutil.OSFileSystem{}
	}
	log := monitoring.OrNop(d.Log)

	cfg, err := loadConfig(rc.ConfigPath)
	if err != nil {
		return nil, err
	}
	src, rows, cols, closeSrc, err := openSource(d.FS, rc)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	opts := cfg.PipelineOptions()
	opts.Clock = d.Clock
	opts.Logger = d.Log
	pl, err := pipeline.New(rows, cols, rc.Channels, cfg.KDEParams(), opts)
	if err != nil {
		return nil, err
	}

	res := &runResult{}
	var sinks []pipeline.Sink
	var masks *frames.MaskWriter
	if rc.MaskDir != "" {
		masks, err = frames.NewMaskWriter(d.FS, rc.MaskDir, frames.MaskFormat(rc.MaskFormat), rows, cols)
		if err != nil {
			return nil, err
		}
		masks.Every = rc.MaskEvery
		sinks = append(sinks, masks)
	}
	if d.DB != nil {
		params, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		r := &store.Run{
			Stream:     rc.Stream,
			Source:     rc.InputDir,
			Version:    version.String(),
			Rows:       rows,
			Cols:       cols,
			Channels:   rc.Channels,
			ParamsJSON: params,
		}
		if err := d.DB.StartRun(r); err != nil {
			return nil, err
		}
		res.RunID = r.RunID
		rec := d.DB.NewRecorder(r.RunID)
		rec.Every = rc.StatsEvery
		sinks = append(sinks, rec)
	}
	if d.Events != nil {
		sinks = append(sinks, events.NewSink(d.Events, rc.Stream, d.Clock))
	}
	if d.Monitor != nil {
		d.Monitor.Every = rc.StatsEvery
		sinks = append(sinks, d.Monitor)
	}
	if iv := cfg.GetProgressInterval(); iv > 0 {
		sinks = append(sinks, &progressSink{log: log, clock: d.Clock, interval: iv})
	}

	log.Opsf("processing %s: %dx%d, %d channels, run %q", rc.InputDir, cols, rows, rc.Channels, res.RunID)
	sum, runErr := pl.Run(ctx, src, sinks...)
	res.Summary = sum
	if errors.Is(runErr, context.Canceled) {
		log.Opsf("interrupted after %d frames", sum.Frames)
		runErr = nil
	}
	if masks != nil {
		res.Masks = masks.Written()
	}
	if d.DB != nil {
		if err := d.DB.FinishRun(res.RunID, sum.Frames, pl.Stats().UpdateCycles); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return res, runErr
	}

	if rc.PlotsDir != "" && d.Monitor != nil {
		dir := monitor.MakePlotOutputDir(rc.PlotsDir, rc.InputDir, d.Clock.Now())
		if res.Plots, err = writeReport(d.FS, d.Monitor.Report(rc.Stream), dir); err != nil {
			return res, err
		}
		if len(res.Plots) > 0 {
			log.Opsf("wrote plots to %s", dir)
		}
	}
	return res, nil
}

// writeReport saves the PNG plots and dashboard.html into dir.
func writeReport(fsys fsutil.FileSystem, report *monitor.Report, dir string) ([]string, error) {
	paths, err := report.SavePlots(dir)
	if err != nil || len(paths) == 0 {
		return paths, err
	}
	name := filepath.Join(dir, "dashboard.html")
	fh, err := fsys.Create(name)
	if err != nil {
		return paths, fmt.Errorf("create %s: %w", name, err)
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

// newMux mounts the debug routes: the store admin pages when db is set and
// the live dashboard.
func newMux(db *store.DB, mon *monitor.Recorder, title string) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	tsweb.Debugger(mux).Handle("dashboard", "Live foreground and bandwidth charts", mon.DashboardHandler(title))
	return mux, nil
}
