package store

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/pipeline"
	"github.com/banshee-data/bgsub/internal/testutil"
	"github.com/banshee-data/bgsub/internal/timeutil"
)

var epoch = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetClock(timeutil.NewStepClock(epoch, time.Second))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRun(t *testing.T, db *DB, stream string) *Run {
	t.Helper()
	run := &Run{Stream: stream, Version: "test", Rows: 3, Cols: 4, Channels: 1, ParamsJSON: json.RawMessage(`{"sample_size":4}`)}
	require.NoError(t, db.StartRun(run))
	return run
}

// testSnapshot learns four noisy frames; different amplitudes give
// different bandwidth bins.
func testSnapshot(t *testing.T, amp int) *kde.BandwidthSnapshot {
	t.Helper()
	p := kde.DefaultParams()
	p.SampleSize = 4
	p.Workers = 1
	m, err := kde.New(3, 4, 1, p)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddFrame(testutil.NoisyFrame(3, 4, 120, amp, i)))
	}
	snap, err := m.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout, foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// source is added by migration 2.
	_, err = db.Exec(`SELECT source FROM runs`)
	assert.Error(t, err)

	require.NoError(t, db.MigrateTo(latest))
	require.NoError(t, db.MigrateUp())
	_, err = db.Exec(`SELECT source FROM runs`)
	assert.NoError(t, err)
}

func TestOpenDBWithoutMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)

	first := newTestRun(t, db, "cam1")
	second := newTestRun(t, db, "cam2")
	assert.NotEmpty(t, first.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, epoch.UnixNano(), first.StartedAt)

	got, err := db.GetRun(first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.Stream, got.Stream)
	assert.Equal(t, 3, got.Rows)
	assert.Equal(t, 4, got.Cols)
	assert.JSONEq(t, `{"sample_size":4}`, string(got.ParamsJSON))
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, db.FinishRun(first.RunID, 120, 7))
	got, err = db.GetRun(first.RunID)
	require.NoError(t, err)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 120, got.Frames)
	assert.Equal(t, 7, got.UpdateCycles)

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID, "newest first")

	runs, err = db.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(db.FinishRun("missing", 1, 1), ErrNotFound))
	assert.True(t, errors.Is(db.DeleteRun("missing"), ErrNotFound))
}

func TestRecorder(t *testing.T) {
	db := newTestDB(t)
	run := newTestRun(t, db, "cam1")
	rec := db.NewRecorder(run.RunID)
	ctx := context.Background()

	results := []pipeline.FrameResult{
		{Index: 0, State: kde.StateLearning, Learning: true, Mask: make([]byte, 12)},
		{Index: 1, State: kde.StateSteady, ForegroundPixels: 3, ForegroundFraction: 0.25, UpdateCycles: 0, Duration: time.Millisecond},
		{Index: 2, State: kde.StateSteady, ForegroundPixels: 0, UpdateCycles: 1},
	}
	for _, res := range results {
		require.NoError(t, rec.WriteFrame(ctx, res))
	}
	assert.Equal(t, 3, rec.Recorded())
	assert.Equal(t, run.RunID, rec.RunID())

	stats, err := db.FrameStats(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, []FrameStat{
		{Index: 0, State: "learning", Learning: true},
		{Index: 1, State: "steady", ForegroundPixels: 3, ForegroundFraction: 0.25, DurationNanos: int64(time.Millisecond)},
		{Index: 2, State: "steady", UpdateCycles: 1},
	}, stats)

	// Duplicate frame indices violate the primary key.
	assert.Error(t, rec.WriteFrame(ctx, results[1]))
}

func TestRecorder_Every(t *testing.T) {
	db := newTestDB(t)
	run := newTestRun(t, db, "cam1")
	rec := db.NewRecorder(run.RunID)
	rec.Every = 4
	for i := 0; i < 10; i++ {
		require.NoError(t, rec.WriteFrame(context.Background(), pipeline.FrameResult{Index: i, State: kde.StateSteady}))
	}
	stats, err := db.FrameStats(run.RunID)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, []int{0, 4, 8}, []int{stats[0].Index, stats[1].Index, stats[2].Index})
}

func TestSnapshots(t *testing.T) {
	db := newTestDB(t)
	run := newTestRun(t, db, "cam1")
	rec := db.NewRecorder(run.RunID)
	ctx := context.Background()

	snapA := testSnapshot(t, 2)
	snapB := testSnapshot(t, 40)
	snapB.Frame = 40
	require.NoError(t, rec.WriteSnapshot(ctx, snapA))
	require.NoError(t, rec.WriteSnapshot(ctx, snapB))

	latest, err := db.LatestSnapshot(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 40, latest.Frame)
	assert.Equal(t, run.RunID, latest.RunID)
	assert.Equal(t, snapB.BinsBlob, latest.BinsBlob)

	want, err := snapB.Bandwidths()
	require.NoError(t, err)
	got, err := latest.Bandwidths()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = db.InsertSnapshot(run.RunID, &kde.BandwidthSnapshot{})
	assert.Error(t, err)

	_, err = db.LatestSnapshot("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	ctxDone, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, rec.WriteSnapshot(ctxDone, snapA), context.Canceled)
}

func TestDeleteDuplicateSnapshots(t *testing.T) {
	db := newTestDB(t)
	run := newTestRun(t, db, "cam1")
	other := newTestRun(t, db, "cam2")

	snapA := testSnapshot(t, 2)
	snapB := testSnapshot(t, 40)
	for _, s := range []*kde.BandwidthSnapshot{snapA, snapA, snapB, snapA} {
		_, err := db.InsertSnapshot(run.RunID, s)
		require.NoError(t, err)
	}
	_, err := db.InsertSnapshot(other.RunID, snapA)
	require.NoError(t, err)

	n, err := db.DeleteDuplicateSnapshots(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := db.ListSnapshots(run.RunID)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	otherLeft, err := db.ListSnapshots(other.RunID)
	require.NoError(t, err)
	assert.Len(t, otherLeft, 1, "other runs are untouched")
}

func TestDeleteRunCascades(t *testing.T) {
	db := newTestDB(t)
	run := newTestRun(t, db, "cam1")
	rec := db.NewRecorder(run.RunID)
	require.NoError(t, rec.WriteFrame(context.Background(), pipeline.FrameResult{Index: 0}))
	_, err := db.InsertSnapshot(run.RunID, testSnapshot(t, 10))
	require.NoError(t, err)

	require.NoError(t, db.DeleteRun(run.RunID))

	stats, err := db.GetDatabaseStats()
	require.NoError(t, err)
	for _, table := range stats.Tables {
		assert.Zero(t, table.RowCount, table.Name)
	}
}

func TestGetDatabaseStats(t *testing.T) {
	db := newTestDB(t)
	newTestRun(t, db, "cam1")

	stats, err := db.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, uint(2), stats.SchemaVersion)
	require.Len(t, stats.Tables, 3)
	assert.Equal(t, "runs", stats.Tables[0].Name)
	assert.Equal(t, int64(1), stats.Tables[0].RowCount)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/tailsql/", "/debug/db-stats", "/debug/runs", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// Debug routes may refuse non-local callers but must be registered.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRunsHandler(t *testing.T) {
	db := newTestDB(t)
	h := db.RunsHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	newTestRun(t, db, "cam1")
	newTestRun(t, db, "cam2")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var runs []Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "cam2", runs[0].Stream)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/debug/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatsHandler(t *testing.T) {
	db := newTestDB(t)
	w := httptest.NewRecorder()
	db.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/db-stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats DatabaseStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint(2), stats.SchemaVersion)
	assert.Len(t, stats.Tables, 3)
}

func TestBackupHandler(t *testing.T) {
	db := newTestDB(t)
	newTestRun(t, db, "cam1")

	w := httptest.NewRecorder()
	db.BackupHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(db.Path()), "backup-*.db"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
