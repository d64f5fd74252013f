// Command bgsub runs kernel density background subtraction over a directory
// of frames, recording runs in SQLite and optionally publishing events to
// NATS.
//
// Usage:
//
//	bgsub -input frames/ -masks out/ [-config tuning.yaml] [-listen :8080]
//	bgsub -db bgsub.db migrate status
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/bgsub/internal/events"
	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/monitor"
	"github.com/banshee-data/bgsub/internal/monitoring"
	"github.com/banshee-data/bgsub/internal/store"
	"github.com/banshee-data/bgsub/internal/timeutil"
	"github.com/banshee-data/bgsub/internal/version"
)

var (
	configFile  = flag.String("config", "", "Tuning config file (.json, .yaml or .yml); built-in defaults when empty")
	inputDir    = flag.String("input", "", "Directory of input frames")
	watch       = flag.Bool("watch", false, "After the existing frames, keep processing images renamed into the input directory")
	width       = flag.Int("width", 0, "Frame width when watching an empty directory")
	height      = flag.Int("height", 0, "Frame height when watching an empty directory")
	channels    = flag.Int("channels", 3, "Channels per pixel: 1 (luma) or 3 (RGB)")
	maskDir     = flag.String("masks", "", "Directory for foreground masks (disabled when empty)")
	maskFormat  = flag.String("mask-format", "png", "Mask file format: png, bmp or tiff")
	maskEvery   = flag.Int("mask-every", 1, "Write one mask out of N frames")
	dbFile      = flag.String("db", "bgsub.db", "Path to the SQLite database file (disabled when empty)")
	statsEvery  = flag.Int("stats-every", 1, "Record statistics for one frame out of N")
	listen      = flag.String("listen", "", "HTTP listen address for the /debug/ pages (disabled when empty)")
	stream      = flag.String("stream", "default", "Stream name for run records and event subjects")
	natsURL     = flag.String("nats", "", "NATS server URL for frame events (disabled when empty)")
	plotsDir    = flag.String("plots", "", "Directory for PNG plots and an HTML dashboard written after the run")
	debug       = flag.Bool("debug", false, "Enable diagnostic logging")
	trace       = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// newLogger sends ops to stderr always and diag or trace when enabled.
func newLogger(debug, trace bool) *monitoring.StreamLogger {
	var diagW, traceW io.Writer
	if debug {
		diagW = os.Stderr
	}
	if trace {
		traceW = os.Stderr
	}
	return monitoring.NewStreamLogger("bgsub", os.Stderr, diagW, traceW)
}

// serveHTTP runs the debug server until ctx is done.
func serveHTTP(ctx context.Context, addr string, h http.Handler, logger monitoring.Logger) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	logger.Opsf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Opsf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			logger.Opsf("HTTP server force close error: %v", err)
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := store.RunMigrateCommand(flag.Args()[1:], *dbFile, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if *inputDir == "" {
		log.Fatal("Input directory is required")
	}

	os.Exit(serve(newLogger(*debug, *trace)))
}

// serve owns every resource of a run and returns the process exit code, so
// its deferred cleanup (database close, NATS drain) runs before main exits.
func serve(logger *monitoring.StreamLogger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *store.DB
	if *dbFile != "" {
		var err error
		db, err = store.NewDB(*dbFile)
		if err != nil {
			logger.Opsf("Failed to connect to database: %v", err)
			return 1
		}
		defer db.Close()
		db.SetLogger(logger)
	}

	var pub events.Publisher
	if *natsURL != "" {
		nc, err := events.Connect(*natsURL, *stream)
		if err != nil {
			logger.Opsf("Failed to connect to NATS: %v", err)
			return 1
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Opsf("NATS drain: %v", err)
			}
		}()
		pub = nc
	}

	mon := monitor.NewRecorder()

	var wg sync.WaitGroup
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if *listen != "" {
		mux, err := newMux(db, mon, *stream)
		if err != nil {
			logger.Opsf("Failed to mount debug routes: %v", err)
			return 1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(srvCtx, *listen, mux, logger)
		}()
	}

	rc := runConfig{
		ConfigPath: *configFile,
		InputDir:   *inputDir,
		Watch:      *watch,
		Width:      *width,
		Height:     *height,
		Channels:   *channels,
		MaskDir:    *maskDir,
		MaskFormat: *maskFormat,
		MaskEvery:  *maskEvery,
		StatsEvery: *statsEvery,
		Stream:     *stream,
		PlotsDir:   *plotsDir,
	}
	res, err := run(ctx, rc, runDeps{
		FS:      fsutil.OSFileSystem{},
		DB:      db,
		Monitor: mon,
		Events:  pub,
		Clock:   timeutil.RealClock{},
		Log:     logger,
	})
	stopServer()
	wg.Wait()
	if err != nil {
		logger.Opsf("run failed: %v", err)
		return 1
	}

	sum := res.Summary
	logger.Opsf("done: %d frames (%d learning), mean foreground %.4f, %d masks, %s",
		sum.Frames, sum.LearningFrames, sum.MeanForeground, res.Masks, sum.TotalDuration)
	return 0
}
